package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// ErrIdentityInUse is returned when another session already holds an identity.
var ErrIdentityInUse = errors.New("identity already in use")

// RoutingStore maps owned phone numbers to destination users.
// Number lifecycle: available -> intent -> bought -> assigned -> (swept) available.
type RoutingStore interface {
	// NumbersFor returns the owned numbers routed to user.
	NumbersFor(ctx context.Context, user string) ([]string, error)
	// Destination returns the user routed from number, or ErrNotFound.
	Destination(ctx context.Context, number string) (string, error)
	SetDestination(ctx context.Context, number, user string) error

	// SweepExpired returns intents older than the store's bound to available.
	SweepExpired(ctx context.Context) (int, error)
	// ClaimAvailable atomically takes one available number starting with
	// prefix and marks it bought. Returns ErrNotFound when none match.
	ClaimAvailable(ctx context.Context, prefix string) (string, error)
	// Release returns a claimed number to the available pool.
	Release(ctx context.Context, number string) error
	IntendToBuy(ctx context.Context, number string) error
	MarkBought(ctx context.Context, number string) error
	Delete(ctx context.Context, number string) error
}

// GroupRoute associates a daemon group with an SMS conversation.
type GroupRoute struct {
	GroupID string
	Their   string // external party's number
	Our     string // owned number
}

// GroupRouteStore holds group <-> SMS-pair associations.
type GroupRouteStore interface {
	SetGroupRoute(ctx context.Context, route GroupRoute) error
	// RouteForGroup returns the SMS pair for a group, or ErrNotFound.
	RouteForGroup(ctx context.Context, groupID string) (GroupRoute, error)
	// GroupForRoute is the inverse lookup, or ErrNotFound.
	GroupForRoute(ctx context.Context, their, our string) (string, error)
}

// Payment is one confirmed incoming wallet transaction.
type Payment struct {
	TransactionLogID    string
	AccountID           string
	ValuePicoMOB        int64
	FinalizedBlockIndex int64
	CreatedAt           time.Time
}

// PaymentStore is the poll source of confirmed payments and the record of
// which user paid.
type PaymentStore interface {
	PutPayment(ctx context.Context, p Payment) error
	// FindPayment returns a payment of exactly valuePicoMOB, or ErrNotFound.
	FindPayment(ctx context.Context, valuePicoMOB int64) (Payment, error)
	RecordUserPayment(ctx context.Context, user, transactionLogID string) error
	// UserPayment returns the transaction recorded for user, or ErrNotFound.
	UserPayment(ctx context.Context, user string) (string, error)
}

// AccountStore persists the daemon's on-disk account state per identity and
// guarantees at most one live session per identity.
type AccountStore interface {
	// Claim marks identity as in use by owner; ErrIdentityInUse if held.
	Claim(ctx context.Context, identity, owner string) error
	Download(ctx context.Context, identity, dir string) error
	Upload(ctx context.Context, identity, dir string) error
	MarkFreed(ctx context.Context, identity string) error
}
