package accounts

import "context"

// Repository defines persistence operations for account records. Implementations
// must offer transactional read-modify-write via WithTx; every lifecycle
// transition runs inside one WithTx closure.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	FindByID(ctx context.Context, id int64) (*UserRecord, error)
	FindByLoginName(ctx context.Context, loginName string) (*UserRecord, error)
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindBySocialID(ctx context.Context, provider Provider, externalID string) (*UserRecord, error)

	Create(ctx context.Context, user *UserRecord) (int64, error)
	Update(ctx context.Context, user *UserRecord) error
	DeleteSocialIdentity(ctx context.Context, accountID int64) error

	// UniqueLoginNameFor returns candidate when free, otherwise a
	// deterministically suffixed variant unique at the moment of the query.
	// Callers must still tolerate ErrConflict at persist time and retry.
	UniqueLoginNameFor(ctx context.Context, candidate string) (string, error)
}
