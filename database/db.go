// Package database persists completed quizzes and the explanation cache
// in sqlite.
package database

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/korjavin/quizbot/models"
)

// DB handles all database operations.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes tables.
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err = createTables(db); err != nil {
		return nil, err
	}
	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quiz_archive (
			session_id TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			questions_json TEXT NOT NULL,
			results_json TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS explain_cache (
			question_key TEXT PRIMARY KEY,
			response TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	return err
}

// ArchiveQuiz stores a completed quiz with its final result.
func (db *DB) ArchiveQuiz(sessionID string, chatID int64, startedAt, endedAt time.Time, questions []models.Question, result models.ScoreResult) error {
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	resultsJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO quiz_archive (session_id, chat_id, started_at, ended_at, questions_json, results_json) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, chatID, startedAt.Unix(), endedAt.Unix(), string(questionsJSON), string(resultsJSON),
	)
	return err
}

// ArchivedQuizCount returns how many quizzes a chat has completed.
func (db *DB) ArchivedQuizCount(chatID int64) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM quiz_archive WHERE chat_id = ?", chatID,
	).Scan(&count)
	return count, err
}

// GetExplanation retrieves a cached explanation.
func (db *DB) GetExplanation(key string) (string, bool, error) {
	var response string
	err := db.conn.QueryRow(
		"SELECT response FROM explain_cache WHERE question_key = ?", key,
	).Scan(&response)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return response, true, nil
}

// PutExplanation stores an explanation.
func (db *DB) PutExplanation(key, text string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO explain_cache (question_key, response, created_at) VALUES (?, ?, ?)",
		key, text, time.Now().Unix(),
	)
	return err
}
