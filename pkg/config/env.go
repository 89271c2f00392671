package config

// EnvPrefix is empty because every field carries its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv        = "NOTIFICATIONS_APP_ENV"
	EnvDBDSN         = "NOTIFICATIONS_DB_DSN"
	EnvDBHost        = "NOTIFICATIONS_DB_HOST"
	EnvDBUser        = "NOTIFICATIONS_DB_USER"
	EnvDBName        = "NOTIFICATIONS_DB_NAME"
	EnvDBPassword    = "NOTIFICATIONS_DB_PASSWORD"
	EnvGCPProjectID  = "NOTIFICATIONS_GCP_PROJECT_ID"
	EnvRetryInterval = "NOTIFICATIONS_REALTIME_RETRY_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
