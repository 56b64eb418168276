package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/strata"
)

// parseWorkerPath parses /api/v1/workers/{host}/tasks or /api/v1/workers/{host}/tasks/{task_id}
func parseWorkerPath(path string) (host string, taskID string, err error) {
	path = strings.TrimPrefix(path, "/api/v1/workers/")
	path = strings.Trim(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "tasks" {
		return "", "", fmt.Errorf("expected /api/v1/workers/{host}/tasks")
	}

	switch len(parts) {
	case 2:
		return parts[0], "", nil
	case 3:
		if parts[2] == "" {
			return "", "", fmt.Errorf("empty task id")
		}
		return parts[0], parts[2], nil
	default:
		return "", "", fmt.Errorf("invalid path format")
	}
}

// errorStatus maps an error to the HTTP status the API reports for it.
func errorStatus(err error) int {
	switch {
	case strata.IsValidationError(err):
		return http.StatusBadRequest
	case strata.IsTransient(err), strata.IsNotAvailable(err):
		return http.StatusServiceUnavailable
	case strata.IsPermanent(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toWorkerView(s strata.WorkerSnapshot) workerView {
	v := workerView{
		Host:       s.Descriptor.Host,
		IP:         s.Descriptor.IP,
		Capacity:   s.Descriptor.Capacity,
		Version:    s.Descriptor.Version,
		State:      string(s.State()),
		Tasks:      s.RunningTasks(),
		Saturation: s.Saturation(),
	}
	if !s.LastCompleted.IsZero() {
		v.LastCompleted = s.LastCompleted.UTC().Format(time.RFC3339)
	}
	return v
}

func toWorkerViews(snapshots []strata.WorkerSnapshot) []workerView {
	out := make([]workerView, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, toWorkerView(s))
	}
	return out
}

// APIResponse is the standard response format
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: true,
		Data:    data,
	})
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// loadConfigFromEnv overlays environment variables on the default configuration.
func loadConfigFromEnv() *strata.Config {
	config := strata.DefaultConfig()

	config.Scaling.AmiID = getEnv("SCALER_AMI_ID", config.Scaling.AmiID)
	config.Scaling.WorkerPort = getEnv("SCALER_WORKER_PORT", config.Scaling.WorkerPort)
	config.Scaling.InstanceType = getEnv("SCALER_INSTANCE_TYPE", config.Scaling.InstanceType)
	config.Scaling.MinNumInstancesToProvision = getEnvInt("SCALER_MIN_INSTANCES", config.Scaling.MinNumInstancesToProvision)
	config.Scaling.MaxNumInstancesToProvision = getEnvInt("SCALER_MAX_INSTANCES", config.Scaling.MaxNumInstancesToProvision)
	config.Scaling.MaxWorkers = getEnvInt("SCALER_MAX_WORKERS", config.Scaling.MaxWorkers)
	config.Scaling.SaturationThreshold = getEnvFloat("SCALER_SATURATION_THRESHOLD", config.Scaling.SaturationThreshold)
	config.Scaling.CountPolicy = getEnv("SCALER_COUNT_POLICY", config.Scaling.CountPolicy)
	config.Scaling.TerminateFilter = getEnv("SCALER_TERMINATE_FILTER", config.Scaling.TerminateFilter)
	config.Scaling.SubnetID = getEnv("SCALER_SUBNET_ID", config.Scaling.SubnetID)
	config.Scaling.KeyName = getEnv("SCALER_KEY_NAME", config.Scaling.KeyName)
	config.Scaling.UserData = getEnv("SCALER_USER_DATA", config.Scaling.UserData)
	if groups := getEnv("SCALER_SECURITY_GROUP_IDS", ""); groups != "" {
		config.Scaling.SecurityGroupIDs = splitCSV(groups)
	}
	config.Scaling.IdleTimeout = getEnvDuration("SCALER_IDLE_TIMEOUT", config.Scaling.IdleTimeout)
	config.Scaling.TickInterval = getEnvDuration("SCALER_TICK_INTERVAL", config.Scaling.TickInterval)
	config.Scaling.ProviderTimeout = getEnvDuration("SCALER_PROVIDER_TIMEOUT", config.Scaling.ProviderTimeout)

	config.Registry.Backend = getEnv("REGISTRY_BACKEND", config.Registry.Backend)
	config.Registry.Host = getEnv("DB_HOST", config.Registry.Host)
	config.Registry.Port = getEnvInt("DB_PORT", config.Registry.Port)
	config.Registry.Database = getEnv("DB_NAME", config.Registry.Database)
	config.Registry.Username = getEnv("DB_USER", config.Registry.Username)
	config.Registry.Password = getEnv("DB_PASSWORD", config.Registry.Password)
	config.Registry.SSLMode = getEnv("DB_SSL_MODE", config.Registry.SSLMode)
	config.Registry.UseIAM = getEnv("DB_USE_IAM", "") == "true"
	config.Registry.MaxConnections = getEnvInt("DB_MAX_CONNECTIONS", config.Registry.MaxConnections)
	config.Registry.WorkersTable = getEnv("WORKERS_TABLE", config.Registry.WorkersTable)
	config.Registry.TasksTable = getEnv("WORKER_TASKS_TABLE", config.Registry.TasksTable)

	config.AWS.Region = getEnv("AWS_REGION", config.AWS.Region)
	config.AWS.Endpoint = getEnv("AWS_ENDPOINT_URL", config.AWS.Endpoint)

	config.Logging.Level = getEnv("LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("LOG_FORMAT", config.Logging.Format)
	config.Metrics.Enabled = getEnv("METRICS_ENABLED", "true") != "false"
	config.Metrics.Endpoint = getEnv("METRICS_ENDPOINT", config.Metrics.Endpoint)

	return config
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
