package observer

import (
	"time"

	"gorm.io/gorm"
)

const (
	pluginName        = "request_toolbar"
	startedAtKey      = "request_toolbar:started_at"
	defaultConnection = "default"
)

// GormPlugin feeds statements executed through gorm into the request's observers.
// Observers are taken from the statement context; Fallback is used when the
// context carries none.
type GormPlugin struct {
	Connection string
	Database   string
	Fallback   *Observers
}

// Name implements gorm.Plugin.
func (p *GormPlugin) Name() string { return pluginName }

// Initialize implements gorm.Plugin.
func (p *GormPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	type registerFunc func(string, func(*gorm.DB)) error
	hooks := []struct {
		op            string
		before, after registerFunc
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		if err := h.before(pluginName+":before_"+h.op, before); err != nil {
			return err
		}
		if err := h.after(pluginName+":after_"+h.op, p.after(h.op == "query")); err != nil {
			return err
		}
	}
	return nil
}

func before(db *gorm.DB) {
	db.InstanceSet(startedAtKey, time.Now())
}

func (p *GormPlugin) after(hydrates bool) func(*gorm.DB) {
	return func(db *gorm.DB) {
		obs := p.observers(db)
		if obs == nil {
			return
		}

		var took time.Duration
		if v, ok := db.InstanceGet(startedAtKey); ok {
			if t, ok := v.(time.Time); ok {
				took = time.Since(t)
			}
		}

		sql := db.Statement.SQL.String()
		if sql != "" {
			conn := p.Connection
			if conn == "" {
				conn = defaultConnection
			}
			obs.Queries.Record(QueryEvent{
				SQL:          sql,
				Bindings:     append([]any(nil), db.Statement.Vars...),
				Duration:     took,
				Connection:   conn,
				Driver:       db.Dialector.Name(),
				Database:     p.Database,
				RowsAffected: db.RowsAffected,
				Err:          db.Error,
			})
		}

		if hydrates && db.Error == nil && db.Statement.Schema != nil && db.RowsAffected > 0 {
			obs.Models.Hydrated(db.Statement.Schema.Name, db.RowsAffected)
		}
	}
}

func (p *GormPlugin) observers(db *gorm.DB) *Observers {
	if db.Statement != nil && db.Statement.Context != nil {
		if obs := FromContext(db.Statement.Context); obs != nil {
			return obs
		}
	}
	return p.Fallback
}
