package db

import "errors"

// ErrNoDatabase is returned when a provider has no database to hand out.
var ErrNoDatabase = errors.New("no database configured")

// Provider hands repositories and transaction managers the pool they run on.
type Provider interface {
	Current() Database
}

// StaticProvider serves one pool for the lifetime of the process. The
// dialect of a data source is fixed when it is built, so the pool behind it
// is never replaced.
type StaticProvider struct {
	db Database
}

func NewStaticProvider(database Database) *StaticProvider {
	return &StaticProvider{db: database}
}

func (p *StaticProvider) Current() Database {
	if p == nil {
		return nil
	}
	return p.db
}

// CurrentDatabase resolves the provider's pool or fails with ErrNoDatabase.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, ErrNoDatabase
	}
	database := provider.Current()
	if database == nil {
		return nil, ErrNoDatabase
	}
	return database, nil
}

// GetProviderQuerier returns the transaction when present, otherwise the
// provider's pool.
func GetProviderQuerier(provider Provider, tx Transaction) (Querier, error) {
	if tx != nil {
		return tx, nil
	}
	return CurrentDatabase(provider)
}
