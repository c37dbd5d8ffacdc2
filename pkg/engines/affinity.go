package engines

// Score is a provider's base suitability for one affinity key.
type Score struct {
	Provider string
	Base     float64
}

// affinity maps "{entity_class}|{style_category}" and "location|{style_category}"
// to provider scores. Order within a row breaks ties.
var affinity = map[string][]Score{
	// human variants
	"human|fiction":              {{"unsplash", 10}, {"pexels", 9}},
	"human|romance":              {{"unsplash", 10}, {"pexels", 9}},
	"human|thriller":             {{"unsplash", 9}, {"pexels", 8}, {"serpapi", 6}},
	"human|historical":           {{"wikimedia", 10}, {"unsplash", 6}},
	"human|adventure":            {{"unsplash", 9}, {"pexels", 8}},
	"human|mystery":              {{"unsplash", 9}, {"pexels", 7}, {"serpapi", 6}},
	"human_supernatural|fantasy": {{"pixabay", 9}, {"deviantart", 8}, {"unsplash", 5}},
	"human_enhanced|sci-fi":      {{"pixabay", 9}, {"serpapi", 7}},
	"human_hybrid|fantasy":       {{"deviantart", 10}, {"pixabay", 8}},
	// mechanical and digital
	"android|sci-fi":    {{"pixabay", 10}, {"deviantart", 9}, {"serpapi", 7}},
	"android|cyberpunk": {{"pixabay", 10}, {"deviantart", 10}, {"serpapi", 8}},
	"robot|sci-fi":      {{"pixabay", 10}, {"deviantart", 8}, {"serpapi", 7}},
	"AI|sci-fi":         {{"pixabay", 9}, {"openverse", 7}, {"serpapi", 8}},
	"AI|cyberpunk":      {{"pixabay", 10}, {"deviantart", 9}},
	"cyborg|sci-fi":     {{"pixabay", 9}, {"deviantart", 9}, {"serpapi", 7}},
	"construct|fantasy": {{"deviantart", 10}, {"pixabay", 8}},
	"golem|fantasy":     {{"deviantart", 10}, {"pixabay", 8}},
	// divine and cosmic
	"deity|fantasy":        {{"deviantart", 10}, {"pixabay", 9}},
	"deity|mythology":      {{"wikimedia", 8}, {"deviantart", 9}, {"pixabay", 8}},
	"demigod|fantasy":      {{"deviantart", 10}, {"pixabay", 9}},
	"angel|fantasy":        {{"deviantart", 9}, {"pixabay", 8}, {"unsplash", 5}},
	"demon|fantasy":        {{"deviantart", 10}, {"pixabay", 9}},
	"cosmic_entity|sci-fi": {{"deviantart", 10}, {"pixabay", 8}, {"serpapi", 6}},
	"elemental|fantasy":    {{"deviantart", 9}, {"pixabay", 9}, {"unsplash", 4}},
	// spirits and undead
	"spirit|fantasy":  {{"deviantart", 9}, {"pixabay", 8}},
	"spirit|folklore": {{"wikimedia", 7}, {"deviantart", 8}, {"pixabay", 7}},
	"ghost|horror":    {{"deviantart", 9}, {"pixabay", 8}, {"serpapi", 6}},
	"undead|fantasy":  {{"deviantart", 10}, {"pixabay", 9}},
	"undead|horror":   {{"deviantart", 9}, {"serpapi", 8}},
	// fae and mythical
	"fae|fantasy":            {{"deviantart", 10}, {"pixabay", 9}},
	"mythical_beast|fantasy": {{"deviantart", 10}, {"pixabay", 9}},
	"folkloric|fantasy":      {{"deviantart", 9}, {"pixabay", 8}, {"wikimedia", 5}},
	"folkloric|folklore":     {{"wikimedia", 8}, {"deviantart", 8}, {"pixabay", 7}},
	"trickster|fantasy":      {{"deviantart", 9}, {"pixabay", 8}},
	// animal-based
	"animal|fiction":                 {{"unsplash", 10}, {"pexels", 8}},
	"animal|adventure":               {{"unsplash", 9}, {"pixabay", 7}},
	"anthropomorphic_animal|fantasy": {{"deviantart", 10}, {"pixabay", 9}},
	"beast|fantasy":                  {{"deviantart", 10}, {"pixabay", 9}},
	"beast|horror":                   {{"deviantart", 9}, {"serpapi", 7}},
	"chimera|fantasy":                {{"deviantart", 10}, {"pixabay", 9}},
	"shapeshifter|fantasy":           {{"deviantart", 9}, {"pixabay", 8}},
	// alien and unknown
	"alien|sci-fi":          {{"deviantart", 10}, {"pixabay", 9}, {"serpapi", 7}},
	"alien_humanoid|sci-fi": {{"deviantart", 9}, {"pixabay", 8}, {"serpapi", 7}},
	"hivemind|sci-fi":       {{"deviantart", 9}, {"pixabay", 8}},
	"eldritch|horror":       {{"deviantart", 10}, {"pixabay", 8}, {"serpapi", 6}},
	// locations
	"location|fiction":    {{"unsplash", 10}, {"pexels", 8}},
	"location|romance":    {{"unsplash", 10}, {"pexels", 9}},
	"location|sci-fi":     {{"pixabay", 9}, {"unsplash", 7}, {"serpapi", 6}},
	"location|cyberpunk":  {{"pixabay", 10}, {"deviantart", 8}, {"serpapi", 7}},
	"location|fantasy":    {{"deviantart", 9}, {"pixabay", 8}, {"unsplash", 6}},
	"location|horror":     {{"pixabay", 8}, {"deviantart", 8}, {"serpapi", 6}},
	"location|historical": {{"wikimedia", 10}, {"unsplash", 6}},
	"location|folklore":   {{"wikimedia", 8}, {"pixabay", 7}, {"unsplash", 5}},
	"location|thriller":   {{"unsplash", 8}, {"pexels", 7}, {"serpapi", 6}},
	"location|adventure":  {{"unsplash", 9}, {"pixabay", 7}, {"pexels", 7}},
	"location|mystery":    {{"unsplash", 8}, {"pexels", 7}, {"pixabay", 6}},
}

var defaultScores = []Score{{"unsplash", 7}, {"serpapi", 5}}
