package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/szibis/request-toolbar/internal/config"
	"github.com/szibis/request-toolbar/internal/observer"
	"github.com/szibis/request-toolbar/internal/toolbar"
)

// User is the demo model served by /users.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// openDatabase connects the demo database and installs the query observer
// plugin. Returns nil when no DSN is configured.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(&observer.GormPlugin{Connection: cfg.DatabaseConnection}); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, err
	}
	return db, nil
}

// demoRoutes serves a small user API. Without a database the handlers report
// synthetic queries so snapshots stay populated.
func demoRoutes(db *gorm.DB) *http.ServeMux {
	d := &demo{db: db}
	mux := http.NewServeMux()
	mux.Handle("GET /users", toolbar.Controller("users.index", http.HandlerFunc(d.listUsers)))
	mux.Handle("GET /users/{id}", toolbar.Controller("users.show", http.HandlerFunc(d.showUser)))
	mux.Handle("POST /users", toolbar.Controller("users.store", http.HandlerFunc(d.createUser)))
	return mux
}

type demo struct {
	db *gorm.DB
}

func (d *demo) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var users []User
	if d.db != nil {
		toolbar.Profile(ctx, "load users")
		if err := d.db.WithContext(ctx).Order("id").Limit(50).Find(&users).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		users = syntheticUsers(r, "select * from users order by id limit 50", nil, 3)
	}
	render(w, r, "users/index", http.StatusOK, users)
}

func (d *demo) showUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var user User
	if d.db != nil {
		err := d.db.WithContext(ctx).First(&user, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		user = syntheticUsers(r, "select * from users where id = ? limit 1", []any{id}, 1)[0]
		user.ID = uint(id)
	}
	render(w, r, "users/show", http.StatusOK, user)
}

func (d *demo) createUser(w http.ResponseWriter, r *http.Request) {
	var user User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil || user.Name == "" {
		http.Error(w, "name required", http.StatusUnprocessableEntity)
		return
	}
	user.ID = 0
	if d.db != nil {
		if err := d.db.WithContext(r.Context()).Create(&user).Error; err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		syntheticUsers(r, "insert into users (name, created_at) values (?, ?)", []any{user.Name, time.Now()}, 0)
	}
	render(w, r, "users/created", http.StatusCreated, user)
}

// syntheticUsers records sql against the request's query observer and returns n
// placeholder users.
func syntheticUsers(r *http.Request, sql string, bindings []any, n int) []User {
	obs := observer.FromContext(r.Context())
	if obs != nil {
		obs.Queries.Record(observer.QueryEvent{
			SQL:        sql,
			Bindings:   bindings,
			Duration:   time.Millisecond,
			Connection: "default",
			Driver:     "postgres",
		})
	}
	users := make([]User, n)
	for i := range users {
		users[i] = User{ID: uint(i + 1), Name: "user " + strconv.Itoa(i+1), CreatedAt: time.Now()}
	}
	if obs != nil && n > 0 {
		obs.Models.Hydrated("User", int64(n))
	}
	return users
}

func render(w http.ResponseWriter, r *http.Request, view string, code int, v any) {
	toolbar.ViewRendered(r.Context(), view)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
