package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"chatbot-gateway/handler"
	"chatbot-gateway/internal/crypt"
	"chatbot-gateway/internal/integrations/blobstore"
	"chatbot-gateway/internal/integrations/messaging"
	"chatbot-gateway/internal/integrations/nlu"
	"chatbot-gateway/internal/integrations/paramstore"
	"chatbot-gateway/internal/repository"
	"chatbot-gateway/internal/session"
	"chatbot-gateway/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	tableName := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	keyMaterialBucket := mustEnv("NLU_KEY_MATERIAL_BUCKET")
	keyMaterialPrefix := os.Getenv("NLU_KEY_MATERIAL_PREFIX")
	sessionWindow := time.Duration(envInt("SESSION_WINDOW_HOURS", 24)) * time.Hour

	logger, err := zap.NewProduction()
	if err != nil {
		slog.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Bootstrap parameters ----
	params, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Fatal("failed to create SSM client", zap.Error(err))
	}
	keys, err := paramstore.LoadKeyRing(ctx, params, paramPrefix+"/encryption-keys")
	if err != nil {
		logger.Fatal("failed to load decryption key ring", zap.Error(err))
	}
	decryptor, err := crypt.NewDecryptor(keys)
	if err != nil {
		logger.Fatal("failed to build decryptor", zap.Error(err))
	}
	nluBaseURL, err := params.GetParameter(ctx, paramPrefix+"/nlu-base-url")
	if err != nil {
		logger.Fatal("failed to load NLU base url", zap.Error(err))
	}
	messagingBaseURL, err := params.GetParameter(ctx, paramPrefix+"/messaging-base-url")
	if err != nil {
		logger.Fatal("failed to load messaging base url", zap.Error(err))
	}

	// ---- Stores ----
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	conversations, err := repository.NewConversationStore(dynamoClient, tableName)
	if err != nil {
		logger.Fatal("failed to create conversation store", zap.Error(err))
	}
	customers, err := repository.NewCustomerStore(dynamoClient, tableName)
	if err != nil {
		logger.Fatal("failed to create customer store", zap.Error(err))
	}
	credentials, err := repository.NewCredentialStore(dynamoClient, tableName)
	if err != nil {
		logger.Fatal("failed to create credential store", zap.Error(err))
	}
	blobs, err := blobstore.New(awss3.NewFromConfig(cfg), keyMaterialBucket, keyMaterialPrefix)
	if err != nil {
		logger.Fatal("failed to create blob store", zap.Error(err))
	}

	// ---- Pipeline ----
	engine, err := session.NewEngine(conversations, logger, sessionWindow)
	if err != nil {
		logger.Fatal("failed to create session engine", zap.Error(err))
	}
	resolver, err := usecase.NewIdentityResolver(customers)
	if err != nil {
		logger.Fatal("failed to create identity resolver", zap.Error(err))
	}

	newNLU := func(keyMaterial []byte) (usecase.IntentDetector, error) {
		creds, err := nlu.ParseCredentials(keyMaterial)
		if err != nil {
			return nil, err
		}
		return nlu.NewClient(nluBaseURL, creds)
	}
	newSender := func(accountSID, authToken, fromAddress string) (usecase.MessageSender, error) {
		return messaging.New(messagingBaseURL, accountSID, authToken, fromAddress)
	}

	svc, err := usecase.NewProcessService(credentials, blobs, decryptor, resolver, engine, newNLU, newSender, logger)
	if err != nil {
		logger.Fatal("failed to create process service", zap.Error(err))
	}

	h, err := handler.NewHandler(svc, logger)
	if err != nil {
		logger.Fatal("failed to create handler", zap.Error(err))
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
