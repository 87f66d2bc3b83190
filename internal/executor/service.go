package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/datawire/dlib/dexec"

	"plumerun/internal/manifest"
)

// ServiceSet supervises the background processes a manifest declares, such as
// a virtual framebuffer that plot-generation tests need. Services are started
// before the first phase; their env entries (e.g. DISPLAY) are exported to
// every later step.
type ServiceSet struct {
	running []*runningService
}

type runningService struct {
	name   string
	cancel context.CancelFunc
	done   chan error
}

// StartServices brings up all services in order. Each service must survive
// its settle delay; a service that exits earlier fails bring-up, and anything
// already started is torn down again.
func StartServices(ctx context.Context, services []manifest.Service, env []string, quiet bool) (*ServiceSet, []manifest.Var, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("executor: ctx is nil")
	}

	set := &ServiceSet{}
	var exported []manifest.Var

	for _, svc := range services {
		svcCtx, cancel := context.WithCancel(ctx)

		cmd := dexec.CommandContext(svcCtx, shellPath, "-c", svc.Command)
		cmd.Env = env
		cmd.DisableLogging = quiet

		if err := cmd.Start(); err != nil {
			cancel()
			set.Stop()
			return nil, nil, fmt.Errorf("start service %s: %w", svc.Name, err)
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		// The settle delay gives the process time to open its sockets before
		// dependent steps run.
		settle := time.NewTimer(svc.Settle.Std())
		select {
		case err := <-done:
			settle.Stop()
			cancel()
			set.Stop()
			return nil, nil, fmt.Errorf("service %s exited during settle delay: %v", svc.Name, err)
		case <-ctx.Done():
			settle.Stop()
			cancel()
			set.Stop()
			return nil, nil, ctx.Err()
		case <-settle.C:
		}

		set.running = append(set.running, &runningService{
			name:   svc.Name,
			cancel: cancel,
			done:   done,
		})

		for _, key := range sortedKeys(svc.Env) {
			exported = append(exported, manifest.Var{Key: key, Value: svc.Env[key]})
		}
	}

	return set, exported, nil
}

// Stop terminates all running services (newest first) and reaps them.
func (s *ServiceSet) Stop() {
	if s == nil {
		return
	}
	for i := len(s.running) - 1; i >= 0; i-- {
		svc := s.running[i]
		svc.cancel()
		select {
		case <-svc.done:
		case <-time.After(5 * time.Second):
			// The context kill should be enough; don't hang teardown on a
			// process stuck in uninterruptible sleep.
		}
	}
	s.running = nil
}

// Names lists the running services, oldest first.
func (s *ServiceSet) Names() []string {
	names := make([]string, 0, len(s.running))
	for _, svc := range s.running {
		names = append(names, svc.name)
	}
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
