package controller

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
	"github.com/lexfrei/registry-credentials-controller/internal/queue"
)

const (
	// DefaultResyncInterval is the period of the full resync sweep.
	DefaultResyncInterval = 2 * time.Minute

	// DefaultRestartDelay is the pause before resubscribing a terminated watch.
	DefaultRestartDelay = time.Second

	operationReconcile = "reconcile"
	operationRetract   = "retract"
	operationOrphan    = "orphan"
)

var errWatchClosed = errors.New("watch channel closed")

// Target is one resource kind driven by a Dispatcher.
type Target interface {
	// Kind names the target in logs and metrics.
	Kind() string
	// NewList returns an empty list of the watched kind.
	NewList() client.ObjectList
	// Items returns the objects of a list returned by NewList.
	Items(list client.ObjectList) []client.Object
	Reconcile(ctx context.Context, obj client.Object) error
	Retract(ctx context.Context, obj client.Object) error
}

// OrphanLister is implemented by targets whose derived objects can outlive a
// delete notification missed while the watch was down. Orphans returns
// stand-in source objects for derived objects not owned by any live resource.
type OrphanLister interface {
	Orphans(ctx context.Context, live []client.Object) ([]client.Object, error)
}

// Dispatcher turns the watch stream of one kind into serialized reconcile and
// retract work, resubscribing whenever the stream ends, and periodically
// resubmits every resource as a backstop against missed events.
//
// Dispatcher implements manager.Runnable, so it only runs on the elected leader.
type Dispatcher struct {
	client         client.WithWatch
	target         Target
	serializer     *queue.Serializer
	namespace      string
	resyncInterval time.Duration
	restartDelay   time.Duration
	metrics        metrics.Collector
	logger         *slog.Logger

	sweeping atomic.Bool
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Namespace restricts the watch and sweep; empty means all namespaces.
	Namespace      string
	ResyncInterval time.Duration
	RestartDelay   time.Duration
	Metrics        metrics.Collector
}

// NewDispatcher creates a Dispatcher for target.
func NewDispatcher(
	c client.WithWatch,
	target Target,
	serializer *queue.Serializer,
	opts DispatcherOptions,
) *Dispatcher {
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = DefaultResyncInterval
	}

	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopCollector()
	}

	return &Dispatcher{
		client:         c,
		target:         target,
		serializer:     serializer,
		namespace:      opts.Namespace,
		resyncInterval: opts.ResyncInterval,
		restartDelay:   opts.RestartDelay,
		metrics:        opts.Metrics,
		logger:         slog.Default().With("component", "dispatcher", "kind", target.Kind()),
	}
}

// Start runs the watch loop and the sweep loop until ctx is cancelled, then
// waits for queued work to finish.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting dispatcher",
		"namespace", d.namespace,
		"resyncInterval", d.resyncInterval,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		d.watchLoop(groupCtx)

		return nil
	})

	group.Go(func() error {
		d.sweepLoop(groupCtx)

		return nil
	})

	err := group.Wait()

	d.logger.Info("dispatcher stopping, draining queued work", "pending", d.serializer.Len())
	d.serializer.Shutdown()

	return err //nolint:wrapcheck // loops never return errors
}

// Sweep lists every resource of the kind and submits each for reconcile.
// It returns false when another sweep is already in progress.
func (d *Dispatcher) Sweep(ctx context.Context) bool {
	if !d.sweeping.CompareAndSwap(false, true) {
		d.logger.Debug("sweep already in progress, skipping")

		return false
	}
	defer d.sweeping.Store(false)

	start := time.Now()
	list := d.target.NewList()

	var opts []client.ListOption
	if d.namespace != "" {
		opts = append(opts, client.InNamespace(d.namespace))
	}

	err := d.client.List(ctx, list, opts...)
	if err != nil {
		d.logger.Error("sweep failed to list resources", "error", err)

		return true
	}

	items := d.target.Items(list)
	for _, obj := range items {
		d.submit(ctx, operationReconcile, obj)
	}

	d.sweepOrphans(ctx, items)

	d.metrics.RecordSweep(ctx, d.target.Kind(), len(items), time.Since(start))
	d.logger.Debug("sweep submitted resources", "count", len(items))

	return true
}

func (d *Dispatcher) sweepOrphans(ctx context.Context, live []client.Object) {
	lister, ok := d.target.(OrphanLister)
	if !ok {
		return
	}

	orphans, err := lister.Orphans(ctx, live)
	if err != nil {
		d.logger.Error("sweep failed to list orphans", "error", err)

		return
	}

	for _, obj := range orphans {
		d.logger.Info("retracting orphaned resources", "name", obj.GetName())
		d.submit(ctx, operationOrphan, obj)
	}
}

func (d *Dispatcher) watchLoop(ctx context.Context) {
	for {
		err := d.watchOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		d.metrics.RecordWatchRestart(ctx, d.target.Kind())
		d.logger.Info("watch ended, resubscribing", "reason", err, "delay", d.restartDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.restartDelay):
		}
	}
}

func (d *Dispatcher) watchOnce(ctx context.Context) error {
	var opts []client.ListOption
	if d.namespace != "" {
		opts = append(opts, client.InNamespace(d.namespace))
	}

	watcher, err := d.client.Watch(ctx, d.target.NewList(), opts...)
	if err != nil {
		return errors.Wrap(err, "failed to start watch")
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errWatchClosed
			}

			err = d.handle(ctx, event)
			if err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, event watch.Event) error {
	//nolint:exhaustive // bookmarks carry no object change
	switch event.Type {
	case watch.Added, watch.Modified:
		obj, ok := event.Object.(client.Object)
		if ok {
			d.submit(ctx, operationReconcile, obj)
		}
	case watch.Deleted:
		obj, ok := event.Object.(client.Object)
		if ok {
			d.submit(ctx, operationRetract, obj)
		}
	case watch.Error:
		return errors.Wrap(apierrors.FromObject(event.Object), "watch error event")
	}

	return nil
}

func (d *Dispatcher) submit(ctx context.Context, operation string, obj client.Object) {
	snapshot, ok := obj.DeepCopyObject().(client.Object)
	if !ok {
		return
	}

	key := snapshot.GetNamespace() + "/" + snapshot.GetName()

	task := d.target.Reconcile

	switch operation {
	case operationRetract:
		task = d.target.Retract
	case operationOrphan:
		task = d.retractOrphan
	}

	id, err := d.serializer.Submit(ctx, key, operation, func(ctx context.Context) error {
		return task(ctx, snapshot)
	})
	if err != nil {
		d.logger.Warn("failed to submit work item", "key", key, "operation", operation, "error", err)

		return
	}

	d.logger.Debug("submitted work item", "key", key, "operation", operation, "workItem", id)
}

// retractOrphan retracts obj unless its source was created after the sweep
// listed the live resources.
func (d *Dispatcher) retractOrphan(ctx context.Context, obj client.Object) error {
	current, ok := obj.DeepCopyObject().(client.Object)
	if !ok {
		return errors.Newf("unexpected object type %T", obj)
	}

	err := d.client.Get(ctx, client.ObjectKeyFromObject(obj), current)
	if err == nil {
		return nil
	}

	if !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "failed to get %s", obj.GetName())
	}

	return d.target.Retract(ctx, obj)
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}
