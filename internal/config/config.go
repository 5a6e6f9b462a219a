package config

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	ld "github.com/launchdarkly/go-server-sdk/v7"

	"github.com/everkeep/legacy-access-service/internal/constants"
	"github.com/everkeep/legacy-access-service/internal/utils"
)

type Config struct {
	OrganizationName string
	AppName          string
	AppPort          string
	AppUrl           string

	// Database
	DBUrl string

	// Master secret the web tier derives per-owner vault keys from.
	VaultMasterKey []byte

	// Twilio / SendGrid for workflow notifications
	TwilioAccountSID string
	TwilioAuthToken  string
	SendGridAPIKey   string
	OpenAIAPIKey     string

	// Auth
	RSAPublicKey *rsa.PublicKey

	// LaunchDarkly flags
	LDFlag_TwilioFromPhone       string
	LDFlag_SendgridFromEmail     string
	LDFlag_SendgridSandboxMode   bool
	LDFlag_CORSHighSecurity      bool
	LDFlag_CertificateReview     bool
	LDFlag_GracePeriodDays       int
	LDFlag_AccessValidityDays    int
}

const (
	OrganizationName    = "Everkeep"
	LDConnectionTimeout = 5 * time.Second
)

// build-time overrides
var (
	AppName             string
	LDServerContextKey  string
	LDServerContextKind string
)

func LoadConfig() *Config {
	if AppName == "" {
		utils.Logger.Fatal("AppName ldflag missing")
	}
	if LDServerContextKey == "" || LDServerContextKind == "" {
		utils.Logger.Fatal("LD context ldflags missing")
	}

	utils.Logger.Info("Loading config for app: ", AppName)

	env := os.Getenv("ENV")
	if env == "" {
		utils.Logger.Fatal("ENV env var is missing")
	}
	appUrl := os.Getenv("APP_URL_FROM_ANYWHERE")
	if appUrl == "" {
		utils.Logger.Fatal("APP_URL_FROM_ANYWHERE env var is missing")
	}
	appPort := os.Getenv("APP_PORT")
	if appPort == "" {
		utils.Logger.Fatal("APP_PORT env var is missing")
	}

	client, err := utils.NewBWSSecretsClient()
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to initialize BWSSecretsClient")
	}
	defer client.Close()

	appSecretsName := fmt.Sprintf("%s-%s", AppName, env)
	appSecrets, err := client.GetBWSSecrets(appSecretsName)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to fetch app secrets from BWS")
	}

	sharedSecretsName := fmt.Sprintf("shared-%s", env)
	sharedSecrets, err := client.GetBWSSecrets(sharedSecretsName)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to fetch shared secrets from BWS")
	}

	// Required shared secrets
	vaultKeyB64, ok := sharedSecrets["VAULT_MASTER_KEY_BASE64"]
	if !ok || vaultKeyB64 == "" {
		utils.Logger.Fatalf("VAULT_MASTER_KEY_BASE64 not found in BWS (%s)", sharedSecretsName)
	}
	vaultKey, err := base64.StdEncoding.DecodeString(vaultKeyB64)
	if err != nil || len(vaultKey) != 32 {
		utils.Logger.Fatal("VAULT_MASTER_KEY_BASE64 invalid - expect 32-byte key")
	}

	pubB64, ok := sharedSecrets["RSA_PUBLIC_KEY_BASE64"]
	if !ok || pubB64 == "" {
		utils.Logger.Fatalf("RSA_PUBLIC_KEY_BASE64 not found in BWS (%s)", sharedSecretsName)
	}
	pubPEM, _ := base64.StdEncoding.DecodeString(pubB64)
	if block, _ := pem.Decode(pubPEM); block == nil {
		utils.Logger.Fatal("Failed to decode PEM block for public key")
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to parse RSA public key")
	}

	// Twilio
	twilioSID, ok := sharedSecrets["TWILIO_ACCOUNT_SID"]
	if !ok || twilioSID == "" {
		utils.Logger.Fatal("TWILIO_ACCOUNT_SID missing in shared secrets")
	}
	twilioToken, ok := sharedSecrets["TWILIO_AUTH_TOKEN"]
	if !ok || twilioToken == "" {
		utils.Logger.Fatal("TWILIO_AUTH_TOKEN missing in shared secrets")
	}

	// SendGrid
	sgAPIKey, ok := sharedSecrets["SENDGRID_API_KEY"]
	if !ok || sgAPIKey == "" {
		utils.Logger.Fatal("SENDGRID_API_KEY missing in shared secrets")
	}

	// App-specific secrets
	dbURL, ok := appSecrets["DB_URL"]
	if !ok || dbURL == "" {
		utils.Logger.Fatalf("DB_URL not found in BWS (%s)", appSecretsName)
	}
	ldSDKKey, ok := appSecrets["LD_SDK_KEY"]
	if !ok || ldSDKKey == "" {
		utils.Logger.Fatalf("LD_SDK_KEY not found in BWS (%s)", appSecretsName)
	}

	ldClient, err := ld.MakeClient(ldSDKKey, LDConnectionTimeout)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to create LaunchDarkly client")
	}
	if !ldClient.Initialized() {
		ldClient.Close()
		utils.Logger.Fatal("LaunchDarkly client failed to initialize")
	}
	defer ldClient.Close()

	ctx := ldcontext.NewWithKind(ldcontext.Kind(LDServerContextKind), LDServerContextKey)

	// Twilio from phone
	twilioFromFlag, err := ldClient.StringVariation("twilio_from_phone", ctx, "")
	if err != nil {
		utils.Logger.WithError(err).Fatal("Error retrieving twilio_from_phone flag")
	}
	utils.Logger.Debugf("twilio_from_phone flag: %s", twilioFromFlag)
	if twilioFromFlag == "" {
		utils.Logger.Warn("twilio_from_phone flag is empty, defaulting to +10005550006")
		twilioFromFlag = "+10005550006"
	}

	// SendGrid from email
	sgFromFlag, err := ldClient.StringVariation("sendgrid_from_email", ctx, "")
	if err != nil {
		utils.Logger.WithError(err).Fatal("Error retrieving sendgrid_from_email flag")
	}
	utils.Logger.Debugf("sendgrid_from_email flag: %s", sgFromFlag)
	if sgFromFlag == "" {
		utils.Logger.Warn("sendgrid_from_email flag is empty, defaulting to no-reply@everkeep.app")
		sgFromFlag = "no-reply@everkeep.app"
	}

	sgSandboxFlag, err := ldClient.BoolVariation("sendgrid_sandbox_mode", ctx, false)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Error retrieving sendgrid_sandbox_mode flag")
	}
	utils.Logger.Debugf("sendgrid_sandbox_mode flag: %t", sgSandboxFlag)

	corsHighSecurityFlag, err := ldClient.BoolVariation("cors_high_security", ctx, false)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Error retrieving cors_high_security flag")
	}
	utils.Logger.Debugf("cors_high_security flag: %t", corsHighSecurityFlag)

	certReviewFlag, err := ldClient.BoolVariation("certificate_review", ctx, false)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Error retrieving certificate_review flag")
	}
	utils.Logger.Debugf("certificate_review flag: %t", certReviewFlag)

	var openaiKey string
	if certReviewFlag {
		val, ok := appSecrets["OPENAI_API_KEY"]
		if !ok || val == "" {
			utils.Logger.Fatal("OPENAI_API_KEY secret missing but flag enabled")
		}
		openaiKey = val
	}

	gracePeriodDays, err := ldClient.IntVariation("grace_period_days", ctx, constants.DefaultGracePeriodDays)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Error retrieving grace_period_days flag")
	}
	utils.Logger.Debugf("grace_period_days flag: %d", gracePeriodDays)
	if gracePeriodDays <= 0 {
		utils.Logger.Warnf("grace_period_days flag %d invalid, using default %d", gracePeriodDays, constants.DefaultGracePeriodDays)
		gracePeriodDays = constants.DefaultGracePeriodDays
	}

	accessValidityDays, err := ldClient.IntVariation("access_validity_days", ctx, constants.DefaultAccessValidityDays)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Error retrieving access_validity_days flag")
	}
	utils.Logger.Debugf("access_validity_days flag: %d", accessValidityDays)
	if accessValidityDays <= 0 {
		accessValidityDays = constants.DefaultAccessValidityDays
	}

	return &Config{
		OrganizationName:           OrganizationName,
		AppName:                    AppName,
		AppPort:                    appPort,
		AppUrl:                     appUrl,
		DBUrl:                      dbURL,
		VaultMasterKey:             vaultKey,
		TwilioAccountSID:           twilioSID,
		TwilioAuthToken:            twilioToken,
		SendGridAPIKey:             sgAPIKey,
		OpenAIAPIKey:               openaiKey,
		RSAPublicKey:               pubKey,
		LDFlag_TwilioFromPhone:     twilioFromFlag,
		LDFlag_SendgridFromEmail:   sgFromFlag,
		LDFlag_SendgridSandboxMode: sgSandboxFlag,
		LDFlag_CORSHighSecurity:    corsHighSecurityFlag,
		LDFlag_CertificateReview:   certReviewFlag,
		LDFlag_GracePeriodDays:     gracePeriodDays,
		LDFlag_AccessValidityDays:  accessValidityDays,
	}
}

func (c *Config) Close() {}

// GracePeriodDuration converts the configured day count into a duration.
func (c *Config) GracePeriodDuration() time.Duration {
	return time.Duration(c.LDFlag_GracePeriodDays) * 24 * time.Hour
}

// AccessValidityDuration converts the configured day count into a duration.
func (c *Config) AccessValidityDuration() time.Duration {
	return time.Duration(c.LDFlag_AccessValidityDays) * 24 * time.Hour
}
