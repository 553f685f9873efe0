package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/captionworks/captionstream/internal/engine"
	"github.com/captionworks/captionstream/internal/ingest"
	"github.com/captionworks/captionstream/internal/media"
	"github.com/captionworks/captionstream/internal/server"
	"github.com/captionworks/captionstream/internal/session"
	"github.com/captionworks/captionstream/internal/status"
	"github.com/captionworks/captionstream/internal/translate"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Upload struct {
		Dir      string `yaml:"dir"`
		MaxBytes int64  `yaml:"max_bytes"`
	} `yaml:"upload"`
	Engine struct {
		ServerURL  string `yaml:"server_url"`
		APIKey     string `yaml:"api_key"`
		SampleRate int    `yaml:"sample_rate"`
		Lang       string `yaml:"lang"`
	} `yaml:"engine"`
	Media struct {
		FFmpegPath string `yaml:"ffmpeg_path"`
	} `yaml:"media"`
	Translate struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"translate"`
	Redis struct {
		Addr       string `yaml:"addr"`
		KeyPrefix  string `yaml:"key_prefix"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"redis"`
	Session struct {
		ResolveTimeoutSeconds   int `yaml:"resolve_timeout_seconds"`
		IncrementTimeoutSeconds int `yaml:"increment_timeout_seconds"`
		RetentionSeconds        int `yaml:"retention_seconds"`
		MaxWordsPerLine         int `yaml:"max_words_per_line"`
	} `yaml:"session"`
	Transcription struct {
		OutputDir       string `yaml:"output_dir"`
		SaveTranscripts bool   `yaml:"save_transcripts"`
		SaveEventLogs   bool   `yaml:"save_event_logs"`
	} `yaml:"transcription"`
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	config := &Config{}
	if err := loadConfig(configFile, config); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	uploadDir := config.Upload.Dir
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}

	extractor := media.NewExtractor(config.Media.FFmpegPath, uploadDir, config.Engine.SampleRate)
	retriever := ingest.NewHTTPRetriever(uploadDir, 5*time.Minute)
	coordinator := ingest.NewCoordinator(extractor, retriever)

	eng := engine.New(engine.Config{
		ServerURL:  config.Engine.ServerURL,
		APIKey:     config.Engine.APIKey,
		SampleRate: config.Engine.SampleRate,
	})

	var translator translate.Translator
	if config.Translate.URL != "" {
		timeout := time.Duration(config.Translate.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		translator = translate.NewClient(config.Translate.URL, timeout)
	}

	var statusStore status.Store = status.Nop{}
	if config.Redis.Addr != "" {
		statusStore = status.NewRedisStore(
			config.Redis.Addr,
			config.Redis.KeyPrefix,
			time.Duration(config.Redis.TTLSeconds)*time.Second,
		)
	}

	manager := session.NewManager(session.Config{
		EngineLang:       config.Engine.Lang,
		ResolveTimeout:   time.Duration(config.Session.ResolveTimeoutSeconds) * time.Second,
		IncrementTimeout: time.Duration(config.Session.IncrementTimeoutSeconds) * time.Second,
		SessionRetention: time.Duration(config.Session.RetentionSeconds) * time.Second,
		MaxWordsPerLine:  config.Session.MaxWordsPerLine,
		OutputDir:        config.Transcription.OutputDir,
		SaveTranscripts:  config.Transcription.SaveTranscripts,
		SaveEventLogs:    config.Transcription.SaveEventLogs,
	}, coordinator, eng, translator, statusStore)

	srv, err := server.New(server.Config{
		Host:           config.Server.Host,
		Port:           config.Server.Port,
		UploadDir:      uploadDir,
		MaxUploadBytes: config.Upload.MaxBytes,
	}, manager, coordinator)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	srv.Stop()
	manager.Shutdown()
	if err := statusStore.Close(); err != nil {
		log.Printf("Status store close error: %v", err)
	}
}

func loadConfig(filename string, config *Config) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	return decoder.Decode(config)
}
