package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"logistics/internal/config"
	"logistics/internal/constants"
	"logistics/internal/logger"
	"logistics/pkg/health"
	"logistics/pkg/migrations"
)

// Databases holds the connections a service opened. Unused ones stay nil.
type Databases struct {
	Postgres *sql.DB
	Redis    *redis.Client
	Mongo    *mongo.Client
	MongoDB  *mongo.Database
}

func (d *Databases) redis() *redis.Client {
	if d == nil {
		return nil
	}
	return d.Redis
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitRedis connects only when the inbox is backed by redis.
func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	if !dc.Config.Inbox.Enabled || dc.Config.Inbox.Store != constants.StoreTypeRedis {
		return nil, nil
	}

	rc := dc.Config.Database.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", rc.Host, rc.Port),
		Password: rc.Password,
		DB:       rc.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "Redis connected successfully", "addr", rdb.Options().Addr)
	return rdb, nil
}

// InitPostgreSQL opens the pool and applies the embedded migrations when
// database.run_migrations is set.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pc := dc.Config.Database.Postgres
	if pc.Host == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", pc.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		if err := migrations.UpPostgres(db); err != nil {
			db.Close()
			return nil, err
		}
		dc.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
	}

	dc.Logger.InfowCtx(ctx, "PostgreSQL connected successfully", "host", pc.Host, "database", pc.DBName)
	return db, nil
}

// InitMongoDB connects and ensures the notification indexes exist.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	mc := dc.Config.Database.MongoDB
	if mc.URI == "" {
		return nil, nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mc.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	name := mc.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	db := client.Database(name)

	if err := migrations.EnsureNotificationIndexes(ctx, db); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	dc.Logger.InfowCtx(ctx, "MongoDB connected successfully", "database", name)
	return client, db, nil
}

// Connect opens what the service's storage type and inbox need and registers
// a health checker for each open connection.
func (dc *DatabaseConnector) Connect(ctx context.Context, registry *health.CheckerRegistry) (*Databases, error) {
	dbs := &Databases{}

	switch dc.Config.Storage.Type {
	case constants.StoreTypePostgres:
		db, err := dc.InitPostgreSQL(ctx)
		if err != nil {
			return nil, err
		}
		if db == nil {
			return nil, fmt.Errorf("storage type postgres requires database.postgres.host")
		}
		dbs.Postgres = db
		registry.Register(health.NewPostgreSQLChecker(db))
	case constants.StoreTypeMongoDB:
		client, db, err := dc.InitMongoDB(ctx)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("storage type mongodb requires database.mongodb.uri")
		}
		dbs.Mongo, dbs.MongoDB = client, db
		registry.Register(health.NewMongoDBChecker(client))
	}

	rdb, err := dc.InitRedis(ctx)
	if err != nil {
		dc.ShutdownDatabases(ctx, dbs)
		return nil, err
	}
	if rdb != nil {
		dbs.Redis = rdb
		// the inbox falls back to processing when redis is down
		registry.RegisterOptional(health.NewRedisChecker(rdb))
	}

	return dbs, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, dbs *Databases) []error {
	if dbs == nil {
		return nil
	}
	var errs []error

	if dbs.Redis != nil {
		if err := dbs.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if dbs.Postgres != nil {
		if err := dbs.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if dbs.Mongo != nil {
		if err := dbs.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
