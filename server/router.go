package server

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ipchat/directory"
	"ipchat/history"
)

var (
	ErrTargetOffline = errors.New("target user is offline")
	ErrNoSuchGroup   = errors.New("no such group")
)

// Router implements the three delivery paths on top of the session registry
// and the conversation store. Batch deliveries are best effort: a failed
// write to one recipient is logged and the rest of the batch continues, and
// the failing recipient's connection is left for its own read loop to clean
// up.
type Router struct {
	registry *Registry
	dir      *directory.Directory
	store    *history.Store
	log      *zap.Logger
}

func NewRouter(registry *Registry, dir *directory.Directory, store *history.Store, log *zap.Logger) *Router {
	return &Router{registry: registry, dir: dir, store: store, log: log}
}

// Broadcast delivers to every active session, sender included. Nothing is
// persisted: broadcast has no addressed conversation key.
func (rt *Router) Broadcast(sender, text string) {
	line := fmt.Sprintf("[%s -> ALL]: %s", sender, text)
	for _, sess := range rt.registry.Snapshot() {
		if err := sess.Send(line); err != nil {
			rt.log.Warn("broadcast delivery failed",
				zap.String("sender", sender),
				zap.String("recipient", sess.Username),
				zap.Error(err))
		}
	}
}

// SendPrivate delivers to target if online and appends the message to the
// pair's conversation log. Delivery and persistence are independent effects:
// a failed append never suppresses the live delivery and vice versa. An
// offline target returns ErrTargetOffline with nothing persisted.
func (rt *Router) SendPrivate(sender, target, text string) error {
	sess, ok := rt.registry.Lookup(target)
	if !ok {
		return ErrTargetOffline
	}

	if err := sess.Send(fmt.Sprintf("[PM %s -> %s]: %s", sender, target, text)); err != nil {
		rt.log.Warn("private delivery failed",
			zap.String("sender", sender),
			zap.String("recipient", target),
			zap.Error(err))
	}

	if err := rt.store.Append(history.PairKey(sender, target), sender, text); err != nil {
		rt.log.Error("history append failed",
			zap.String("sender", sender),
			zap.String("recipient", target),
			zap.Error(err))
	}
	return nil
}

// SendGroup delivers to every online member of the group and appends to the
// group's conversation log exactly once, including when no member is online.
// Membership is checked against the group store, not the registry.
func (rt *Router) SendGroup(sender, groupID, text string) error {
	if _, ok := rt.dir.Group(groupID); !ok {
		return ErrNoSuchGroup
	}

	line := fmt.Sprintf("[%s@%s]: %s", sender, groupID, text)
	for _, sess := range rt.registry.Snapshot() {
		if !rt.dir.IsMember(groupID, sess.Username) {
			continue
		}
		if err := sess.Send(line); err != nil {
			rt.log.Warn("group delivery failed",
				zap.String("sender", sender),
				zap.String("group", groupID),
				zap.String("recipient", sess.Username),
				zap.Error(err))
		}
	}

	if err := rt.store.Append(history.GroupKey(groupID), sender, text); err != nil {
		rt.log.Error("history append failed",
			zap.String("sender", sender),
			zap.String("group", groupID),
			zap.Error(err))
	}
	return nil
}
