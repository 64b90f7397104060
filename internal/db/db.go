package db

import (
	"database/sql"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"
)

// InitDB opens the pool. DATE and DATETIME columns are always scanned into
// time.Time, so parseTime is forced on whatever the DSN says.
func InitDB(dbURL string) *sql.DB {
	cfg, err := mysql.ParseDSN(dbURL)
	if err != nil {
		log.Fatal("invalid DB_URL: ", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		log.Fatal("failed to open database: ", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = db.Ping()
	if err != nil {
		log.Fatal("database is not responding: ", err)
	}

	log.Println("connected to database")
	return db
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(100) NOT NULL,
		email VARCHAR(100) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(20) NOT NULL,
		credits BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_email (email),
		UNIQUE KEY uq_users_username (username)
	);`,
	`CREATE TABLE IF NOT EXISTS opt_outs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		meal_date DATE NOT NULL,
		shift VARCHAR(16) NOT NULL,
		credit_earned BIGINT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE KEY uq_opt_outs_user_date_shift (user_id, meal_date, shift),
		INDEX idx_opt_outs_user_created (user_id, created_at),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS redemption_requests (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		processed_by BIGINT NULL,
		processed_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_redemptions_status_created (status, created_at),
		INDEX idx_redemptions_user_created (user_id, created_at),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS credit_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		balance BIGINT NOT NULL,
		change_amount BIGINT NOT NULL,
		reason VARCHAR(32) NOT NULL,
		reference_id BIGINT NOT NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_credit_history_user_created (user_id, created_at),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
}

func RunMigrations(db *sql.DB) {
	for _, q := range migrations {
		_, err := db.Exec(q)
		if err != nil {
			log.Fatal("migration failed: ", err)
		}
	}
	log.Println("migrations applied")
}
