package app

import (
	"time"

	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/utils"
)

type Config struct {
	ServiceName     string
	Environment     string
	ListenAddress   string
	PineconeAPIKey  string
	PineconeTimeout time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	serviceName := utils.GetEnv("SERVICE_NAME", "handover-backend", log)
	environment := utils.GetEnv("APP_ENV", "development", log)
	port := utils.GetEnv("PORT", "8080", log)
	pineconeKey := utils.GetEnv("PINECONE_API_KEY", "", log)
	pineconeTimeoutSeconds := utils.GetEnvAsInt("PINECONE_TIMEOUT_SECONDS", 30, log)
	return Config{
		ServiceName:     serviceName,
		Environment:     environment,
		ListenAddress:   ":" + port,
		PineconeAPIKey:  pineconeKey,
		PineconeTimeout: time.Duration(pineconeTimeoutSeconds) * time.Second,
	}
}
