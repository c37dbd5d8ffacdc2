// Package queue serialises text-to-image generation behind a single worker.
package queue

import (
	"cmp"
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"

	"inkwell/pkg/t2i"
	"inkwell/pkg/utils"
)

const DefaultSize = 100

var (
	ErrFull    = errors.New("queue is full")
	ErrStopped = errors.New("queue is stopped")
)

type Item struct {
	ID       string
	Provider t2i.Provider
	Request  t2i.Request
	Response chan t2i.Result
	Error    chan error
}

type Queue struct {
	items  chan *Item
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	log    *log.Logger
}

func New(size int, logger *log.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		items:  make(chan *Item, cmp.Or(max(size, 0), DefaultSize)),
		ctx:    ctx,
		cancel: cancel,
		log:    cmp.Or(logger, log.Default()),
	}
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.processLoop()
}

// Stop cancels the running job and waits for the worker. Queued items get ErrStopped.
func (q *Queue) Stop() {
	q.once.Do(func() {
		q.cancel()
		q.wg.Wait()
		for {
			select {
			case item := <-q.items:
				item.Error <- ErrStopped
				close(item.Response)
			default:
				return
			}
		}
	})
}

// Add enqueues one generation. Exactly one of the returned channels receives
// a value; the other is closed.
func (q *Queue) Add(p t2i.Provider, req t2i.Request) (string, <-chan t2i.Result, <-chan error, error) {
	if q.ctx.Err() != nil {
		return "", nil, nil, ErrStopped
	}
	item := &Item{
		ID:       ksuid.New().String(),
		Provider: p,
		Request:  req,
		Response: make(chan t2i.Result, 1),
		Error:    make(chan error, 1),
	}

	select {
	case q.items <- item:
		return item.ID, item.Response, item.Error, nil
	default:
		return "", nil, nil, ErrFull
	}
}

// Len is the number of waiting items.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) processLoop() {
	defer q.wg.Done()
	q.log.Info("t2i queue started")
	for {
		select {
		case <-q.ctx.Done():
			q.log.Info("t2i queue stopped")
			return
		case item := <-q.items:
			if q.ctx.Err() != nil {
				item.Error <- ErrStopped
				close(item.Response)
				return
			}
			q.processItem(item)
		}
	}
}

func (q *Queue) processItem(item *Item) {
	q.log.Info("processing generation", "job", item.ID, "provider", item.Provider.Name(), "prompt", utils.LimitStr(item.Request.Prompt, 50))

	res, err := item.Provider.Generate(q.ctx, item.Request)
	if err != nil {
		q.log.Warn("generation failed", "job", item.ID, "error", err)
		item.Error <- err
		close(item.Response)
		return
	}

	item.Response <- res
	close(item.Error)
}
