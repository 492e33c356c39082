package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	fmt.Println("Creating RAG engine database tables...")

	// Connect to database
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=raguser password=ragpassword dbname=rag_shared sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test connection
	err = db.Ping()
	if err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	// Create schema
	fmt.Println("Creating rag_engine schema...")
	_, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS rag_engine`)
	if err != nil {
		log.Printf("Warning: Failed to create schema: %v", err)
	} else {
		fmt.Println("✅ Schema created/verified")
	}

	// Create users table
	fmt.Println("Creating users table...")
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS rag_engine.users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email VARCHAR(255) NOT NULL UNIQUE,
		display_name VARCHAR(255),
		role VARCHAR(50) NOT NULL DEFAULT 'member',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createUsersTable)
	if err != nil {
		log.Printf("Warning: Failed to create users table: %v", err)
	} else {
		fmt.Println("✅ Users table created/verified")
	}

	// Create user_api_keys table
	fmt.Println("Creating user_api_keys table...")
	createKeysTable := `
	CREATE TABLE IF NOT EXISTS rag_engine.user_api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		provider VARCHAR(50) NOT NULL,
		api_key TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		CONSTRAINT idx_user_provider UNIQUE (user_id, provider)
	)`

	_, err = db.Exec(createKeysTable)
	if err != nil {
		log.Printf("Warning: Failed to create user_api_keys table: %v", err)
	} else {
		fmt.Println("✅ User API keys table created/verified")
	}

	// Create bots table
	fmt.Println("Creating bots table...")
	createBotsTable := `
	CREATE TABLE IF NOT EXISTS rag_engine.bots (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		owner_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		embedding_provider VARCHAR(50) NOT NULL,
		embedding_model VARCHAR(100) NOT NULL,
		llm_provider VARCHAR(50) NOT NULL,
		llm_model VARCHAR(100) NOT NULL,
		system_prompt TEXT,
		retrieval_settings JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	)`

	_, err = db.Exec(createBotsTable)
	if err != nil {
		log.Printf("Warning: Failed to create bots table: %v", err)
	} else {
		fmt.Println("✅ Bots table created/verified")
	}

	// Create documents table
	fmt.Println("Creating documents table...")
	createDocumentsTable := `
	CREATE TABLE IF NOT EXISTS rag_engine.documents (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL,
		uploader_id UUID NOT NULL,
		filename VARCHAR(512) NOT NULL,
		file_path TEXT NOT NULL,
		file_size BIGINT DEFAULT 0,
		chunk_count INTEGER DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createDocumentsTable)
	if err != nil {
		log.Printf("Warning: Failed to create documents table: %v", err)
	} else {
		fmt.Println("✅ Documents table created/verified")
	}

	// Create document_chunks table
	fmt.Println("Creating document_chunks table...")
	createChunksTable := `
	CREATE TABLE IF NOT EXISTS rag_engine.document_chunks (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		document_id UUID NOT NULL,
		bot_id UUID NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_hash VARCHAR(64),
		embedding_id VARCHAR(64),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createChunksTable)
	if err != nil {
		log.Printf("Warning: Failed to create document_chunks table: %v", err)
	} else {
		fmt.Println("✅ Document chunks table created/verified")
	}

	// Create collection_metadata table
	fmt.Println("Creating collection_metadata table...")
	createCollectionsTable := `
	CREATE TABLE IF NOT EXISTS rag_engine.collection_metadata (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL UNIQUE,
		collection_name VARCHAR(255) NOT NULL,
		embedding_provider VARCHAR(50) NOT NULL,
		embedding_model VARCHAR(100) NOT NULL,
		embedding_dimension INTEGER NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'inactive',
		points_count BIGINT DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createCollectionsTable)
	if err != nil {
		log.Printf("Warning: Failed to create collection_metadata table: %v", err)
	} else {
		fmt.Println("✅ Collection metadata table created/verified")
	}

	// Create threshold_performance_logs table
	fmt.Println("Creating threshold_performance_logs table...")
	createLogsTable := `
	CREATE TABLE IF NOT EXISTS rag_engine.threshold_performance_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id UUID NOT NULL,
		threshold_used DOUBLE PRECISION,
		provider VARCHAR(50) NOT NULL,
		model VARCHAR(100),
		query_length INTEGER DEFAULT 0,
		query_hash VARCHAR(64),
		results_found INTEGER DEFAULT 0,
		min_score DOUBLE PRECISION DEFAULT 0,
		avg_score DOUBLE PRECISION DEFAULT 0,
		max_score DOUBLE PRECISION DEFAULT 0,
		score_std_dev DOUBLE PRECISION DEFAULT 0,
		processing_time DOUBLE PRECISION DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		adjustment_reason VARCHAR(100),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createLogsTable)
	if err != nil {
		log.Printf("Warning: Failed to create threshold_performance_logs table: %v", err)
	} else {
		fmt.Println("✅ Threshold performance logs table created/verified")
	}

	// Create indexes
	fmt.Println("Creating indexes...")
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_bots_owner_id ON rag_engine.bots(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_deleted_at ON rag_engine.bots(deleted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_bot_id ON rag_engine.documents(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON rag_engine.document_chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_bot_id ON rag_engine.document_chunks(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_content_hash ON rag_engine.document_chunks(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_threshold_logs_bot_id ON rag_engine.threshold_performance_logs(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_threshold_logs_created_at ON rag_engine.threshold_performance_logs(created_at)`,
	}

	for _, index := range indexes {
		_, err = db.Exec(index)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
		}
	}
	fmt.Println("✅ Indexes created/verified")

	fmt.Println("\n🎉 Database setup complete!")
	fmt.Println("All tables are ready for the RAG engine.")
}
