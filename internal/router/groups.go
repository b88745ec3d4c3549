package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"contactbot/internal/domain"
	"contactbot/internal/phone"
	"contactbot/internal/protocol"
)

const defaultPendingTTL = 10 * time.Minute

type pendingGroup struct {
	Their, Our string // teli form
	At         time.Time
}

// pendingGroups tracks group creations requested per user until the daemon
// announces the new group's id.
type pendingGroups struct {
	mu     sync.Mutex
	ttl    time.Duration
	byUser map[string][]pendingGroup
}

func newPendingGroups(ttl time.Duration) *pendingGroups {
	return &pendingGroups{ttl: ttl, byUser: make(map[string][]pendingGroup)}
}

func (p *pendingGroups) add(user string, g pendingGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked(g.At)
	p.byUser[user] = append(p.byUser[user], g)
}

// resolve removes the pending entry for (their, our) and returns who asked
// for it.
func (p *pendingGroups) resolve(their, our string, now time.Time) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked(now)
	for user, groups := range p.byUser {
		for i, g := range groups {
			if g.Their == their && g.Our == our {
				p.byUser[user] = append(groups[:i:i], groups[i+1:]...)
				if len(p.byUser[user]) == 0 {
					delete(p.byUser, user)
				}
				return user, true
			}
		}
	}
	return "", false
}

func (p *pendingGroups) count(user string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byUser[user])
}

func (p *pendingGroups) expireLocked(now time.Time) {
	for user, groups := range p.byUser {
		kept := groups[:0]
		for _, g := range groups {
			if now.Sub(g.At) < p.ttl {
				kept = append(kept, g)
			}
		}
		if len(kept) == 0 {
			delete(p.byUser, user)
		} else {
			p.byUser[user] = kept
		}
	}
}

// makeGroup asks the daemon for a group relaying SMS between the command's
// target and our number, with the requesting user as its member.
func (r *Router) makeGroup(ctx context.Context, env *domain.Envelope, our string) {
	target, err := phone.SignalFormat(env.Arg(0))
	if err != nil {
		r.reply(env, domain.Text(invalidNumber(env.Arg(0))))
		return
	}
	r.queue(domain.NewUpdateGroup(protocol.GroupName(target, our), env.Source))
	r.react(EmojiGroup, env)
	r.reply(env, domain.Text("invited you to a group"))

	// Routes are announced in teli form; track the request the same way.
	their, _ := phone.TeliFormat(target)
	ourTeli, err := phone.TeliFormat(our)
	if err != nil {
		ourTeli = our
	}
	r.pending.add(env.Source, pendingGroup{Their: their, Our: ourTeli, At: time.Now()})
}

// SetGroupRoute stores a route announced by the daemon and settles the
// matching pending group creation.
func (r *Router) SetGroupRoute(ctx context.Context, route domain.GroupRoute) error {
	if err := r.cfg.Groups.SetGroupRoute(ctx, route); err != nil {
		return err
	}
	if user, ok := r.pending.resolve(route.Their, route.Our, time.Now()); ok {
		r.logger.Info("pending group created", "user", user, "group", route.GroupID)
	} else {
		r.logger.Info("group route announced without pending request", "group", route.GroupID)
	}
	return nil
}

func invalidNumber(arg string) string {
	return fmt.Sprintf("%s doesn't look a valid number or user. did you include the country code?", arg)
}
