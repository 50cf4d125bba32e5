package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wesleywu/pfnetmon/internal/config"
	"github.com/wesleywu/pfnetmon/internal/logger"
	"github.com/wesleywu/pfnetmon/internal/metrics"
	"github.com/wesleywu/pfnetmon/internal/netmon"
)

// ServiceManager owns the process-level lifecycle around a
// netmon.NetMonitor: signal handling, startup/shutdown sequencing, and
// an in-process status snapshot (GetStatus; the CLI's "status"
// subcommand queries the platform service instead) — adapted from
// the teacher's ServiceManager, with the Chinese-route/DNS switching
// body replaced by the kernel network interface core this module
// builds (spec.md §1-2).
type ServiceManager struct {
	config  *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	monitor *netmon.NetMonitor

	stopChan chan os.Signal
	doneChan chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	mutex     sync.RWMutex
	isRunning bool
	startedAt time.Time
}

func NewServiceManager(cfg *config.Config, log *logger.Logger) (*ServiceManager, error) {
	ctx, cancel := context.WithCancel(context.Background())

	sm := &ServiceManager{
		config:   cfg,
		logger:   log.WithComponent("service"),
		metrics:  metrics.New(),
		stopChan: make(chan os.Signal, 1),
		doneChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	return sm, nil
}

// Start opens the NetMonitor core and begins handling OS signals. The
// core's own event dispatcher runs on its shared pool (spec.md §4.4);
// this method just supervises the process around it, mirroring the
// teacher's Start/serviceLoop split.
func (sm *ServiceManager) Start() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.isRunning {
		return fmt.Errorf("service is already running")
	}

	if os.Getuid() != 0 {
		return fmt.Errorf("root privileges required")
	}

	signal.Notify(sm.stopChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sm.logger.ServiceStart("1.0.0", fmt.Sprintf("%d", os.Getpid()))

	monitor, err := netmon.NewNetMonitor(netmon.Options{
		Logger:  sm.logger,
		Metrics: sm.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to start kernel network interface core: %w", err)
	}
	sm.monitor = monitor
	sm.startedAt = time.Now()

	go sm.serviceLoop()
	sm.isRunning = true

	return nil
}

// Stop tears down the NetMonitor core (closing the routing socket and
// releasing any outstanding virtual IPs) and waits for serviceLoop to
// exit, or times out.
func (sm *ServiceManager) Stop() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.isRunning {
		return nil
	}

	sm.logger.ServiceStop()

	sm.cancel()
	close(sm.stopChan)

	if err := sm.monitor.Destroy(); err != nil {
		sm.logger.Error("failed to destroy netmon core", "error", err)
	}

	sm.isRunning = false

	select {
	case <-sm.doneChan:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("service stop timeout")
	}
}

// Wait blocks until the service's context is cancelled or a terminal
// signal arrives, stopping the service in the latter case.
func (sm *ServiceManager) Wait() error {
	select {
	case <-sm.ctx.Done():
		return sm.ctx.Err()
	case sig := <-sm.stopChan:
		sm.logger.Info("received signal", "signal", sig.String())
		return sm.Stop()
	}
}

// serviceLoop just waits for shutdown: the event dispatcher's reader
// task (spec.md §4.4) already runs independently on the shared pool,
// so there is nothing left for this goroutine to poll.
func (sm *ServiceManager) serviceLoop() {
	defer close(sm.doneChan)
	<-sm.ctx.Done()
}

func (sm *ServiceManager) IsRunning() bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.isRunning
}

// Monitor exposes the underlying core for CLI subcommands that need to
// issue queries directly (e.g. a "test" subcommand probing
// get_source_addr), or nil if the service has not been started.
func (sm *ServiceManager) Monitor() *netmon.NetMonitor {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.monitor
}

func (sm *ServiceManager) GetStatus() map[string]interface{} {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	status := map[string]interface{}{
		"running": sm.isRunning,
	}
	if sm.isRunning {
		status["started_at"] = sm.startedAt.Format(time.RFC3339)
		status["uptime"] = time.Since(sm.startedAt).String()
		status["requires_exclude_route"] = sm.monitor.Features().RequiresExcludeRoute
	}
	return status
}
