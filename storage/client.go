package storage

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultMySQLHost = "localhost"
	defaultMySQLPort = 3306
)

// Option defines connection options for MySQL.
type Option struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Config   *gorm.Config
}

// Client wraps a MySQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// NewClient opens a MySQL connection pool from the provided options
// and ensures the destination tables exist.
func NewClient(option Option) (*Client, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	}

	db, err := gorm.Open(mysql.Open(option.dsn()), config)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if err := db.AutoMigrate(
		&TradeRow{},
		&OrderBookRow{},
		&FuturesRow{},
		&NavRow{},
		&PaperTradeRow{},
		&ExchangeRateRow{},
		&GlobalIndexRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate tables: %w", err)
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Create inserts one row.
func (c *Client) Create(value interface{}) error {
	return c.db.Create(value).Error
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() string {
	host := opt.Host
	if host == "" {
		host = defaultMySQLHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultMySQLPort
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		opt.User, opt.Password, host, port, opt.Database)
}
