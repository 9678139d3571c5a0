package executor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mpython77/instaapi-sub001/internal/apierr"
)

// orderDoer records the order in which calls start.
type orderDoer struct {
	mu      sync.Mutex
	started []string
	delay   time.Duration
}

func (d *orderDoer) Execute(ctx context.Context, call Call) (*Result, error) {
	d.mu.Lock()
	d.started = append(d.started, call.Target)
	d.mu.Unlock()
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if call.Target == "fail" {
		return nil, apierr.New(apierr.KindResourceNotFound, "gone")
	}
	n, _ := strconv.Atoi(call.Target)
	return &Result{Status: n}, nil
}

func TestPoolFIFO(t *testing.T) {
	t.Parallel()

	d := &orderDoer{delay: time.Millisecond}
	p, err := NewPool(d, 1, WithQueueSize(16))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx := context.Background()
	var futures []*Future
	for i := range 8 {
		f, err := p.Submit(ctx, Call{Target: strconv.Itoa(i)})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}
	for i, f := range futures {
		res, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if res.Status != i {
			t.Errorf("future %d got result %d", i, res.Status)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, target := range d.started {
		if target != strconv.Itoa(i) {
			t.Fatalf("start order = %v, want submission order", d.started)
		}
	}
}

func TestPoolClose(t *testing.T) {
	t.Parallel()

	d := &orderDoer{delay: 5 * time.Millisecond}
	p, err := NewPool(d, 2)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	var futures []*Future
	for i := range 4 {
		f, err := p.Submit(ctx, Call{Target: strconv.Itoa(i)})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Errorf("queued call %d not served before close: %v", i, err)
		}
	}
	if _, err := p.Submit(ctx, Call{Target: "9"}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestPoolWaitHonorsContext(t *testing.T) {
	t.Parallel()

	d := &orderDoer{delay: 200 * time.Millisecond}
	p, err := NewPool(d, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f, err := p.Submit(context.Background(), Call{Target: "1"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestNewPoolInvalidWorkers(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(&orderDoer{}, 0); !errors.Is(err, ErrInvalidWorkers) {
		t.Errorf("NewPool(0) error = %v, want ErrInvalidWorkers", err)
	}
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	t.Parallel()

	calls := []Call{{Target: "0"}, {Target: "fail"}, {Target: "2"}, {Target: "3"}}
	results, errs := ExecuteAll(context.Background(), &orderDoer{}, calls, 3, nil)

	if len(results) != len(calls) || len(errs) != len(calls) {
		t.Fatalf("got %d results, %d errors", len(results), len(errs))
	}
	for i, want := range []int{0, -1, 2, 3} {
		if want < 0 {
			if !errors.Is(errs[i], apierr.ErrResourceNotFound) {
				t.Errorf("errs[%d] = %v", i, errs[i])
			}
			continue
		}
		if errs[i] != nil || results[i].Status != want {
			t.Errorf("results[%d] = %+v, %v", i, results[i], errs[i])
		}
	}
}

func TestPoolRunAll(t *testing.T) {
	t.Parallel()

	p, err := NewPool(&orderDoer{}, 2, WithQueueSize(1))
	if err != nil {
		t.Fatal(err)
	}

	calls := []Call{{Target: "0"}, {Target: "fail"}, {Target: "2"}, {Target: "3"}}
	results, errs := p.RunAll(context.Background(), calls)
	for i, want := range []int{0, -1, 2, 3} {
		if want < 0 {
			if !errors.Is(errs[i], apierr.ErrResourceNotFound) {
				t.Errorf("errs[%d] = %v", i, errs[i])
			}
			continue
		}
		if errs[i] != nil || results[i].Status != want {
			t.Errorf("results[%d] = %+v, %v", i, results[i], errs[i])
		}
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	_, errs = p.RunAll(context.Background(), calls[:1])
	if !errors.Is(errs[0], ErrPoolClosed) {
		t.Errorf("RunAll() after Close error = %v, want ErrPoolClosed", errs[0])
	}
}
