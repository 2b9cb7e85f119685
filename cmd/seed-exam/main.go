package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/repository"
)

func main() {
	var path string
	flag.StringVar(&path, "file", "", "Path to the exam YAML file")
	flag.Parse()
	if path == "" {
		fmt.Println("Usage: seed-exam -file exam.yaml")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	def, key, err := readExamFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Invalid exam file")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	if err := examRepo.CreateExam(ctx, def, key); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed exam")
	}

	fmt.Println("=== Exam Seeded ===")
	fmt.Printf("ID:        %s\n", def.ID)
	fmt.Printf("Title:     %s\n", def.Title)
	fmt.Printf("Questions: %d mc, %d tf, %d sa\n", len(def.MCQuestions), len(def.TFQuestions), len(def.SAQuestions))
}
