package session

import (
	"context"
	"sort"

	"github.com/termbridge/termbridge/internal/tmux"
)

// Discover lists the remote tmux sessions that belong to this app (by
// name prefix) and returns their slots, lowest first. A phone reinstall
// loses local state but the server still has the shells; discovery lets
// the registry adopt them instead of orphaning them.
func (r *Registry) Discover(ctx context.Context) ([]int, error) {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	out, err := r.run(ctx, tmux.ListCommand(cfg.TmuxPath))
	if err != nil {
		return nil, err
	}
	slots := tmux.ParseSessionList(cfg.Base, out)
	sort.Ints(slots)
	return slots, nil
}

// AdoptDiscovered attaches every discovered slot up to capacity. Slots
// beyond the cap are left running on the remote, untouched.
func (r *Registry) AdoptDiscovered(ctx context.Context) ([]*Session, error) {
	slots, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var adopted []*Session
	for _, slot := range slots {
		r.mu.Lock()
		full := len(r.sessions) >= r.cfg.Capacity
		_, already := r.sessions[slot]
		r.mu.Unlock()
		if full && !already {
			break
		}
		sess, err := r.Attach(ctx, slot)
		if err != nil {
			r.logger.Warn("failed to adopt discovered session", "slot", slot, "err", err)
			continue
		}
		adopted = append(adopted, sess)
	}
	return adopted, nil
}
