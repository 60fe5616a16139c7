package config

import "github.com/spf13/viper"

// Environment knobs. These override the experiment file so the same file
// can move between a laptop docker setup and a cluster without edits.
const (
	EnvProvider   = "FLEET_PROVIDER"
	EnvLogLevel   = "FLEET_LOG_LEVEL"
	EnvLogDir     = "FLEET_LOG_DIR"
	EnvStateDir   = "FLEET_STATE_DIR"
	EnvAgentBin   = "FLEET_AGENT_BIN"
	EnvKubeconfig = "FLEET_KUBECONFIG"
	EnvNamespace  = "FLEET_NAMESPACE"
	EnvHostPrefix = "FLEET_HOST_PREFIX"
)

// InitEnv wires viper to a .env file in the working directory plus the
// process environment. Missing file is fine; the environment alone works.
func InitEnv() {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	_ = viper.ReadInConfig()

	viper.SetDefault(EnvProvider, "")
	viper.SetDefault(EnvLogLevel, "")
	viper.SetDefault(EnvLogDir, "")
	viper.SetDefault(EnvStateDir, "")
	viper.SetDefault(EnvAgentBin, "")
	viper.SetDefault(EnvKubeconfig, "")
	viper.SetDefault(EnvNamespace, "default")
	viper.SetDefault(EnvHostPrefix, "")

	viper.AutomaticEnv()
}

// ApplyEnv lays the environment overrides over an experiment. Empty
// values leave the file's settings alone.
func ApplyEnv(exp *Experiment) {
	if v := viper.GetString(EnvProvider); v != "" {
		exp.Provider = v
	}
	if v := viper.GetString(EnvLogLevel); v != "" {
		exp.LogLevel = v
	}
	if v := viper.GetString(EnvLogDir); v != "" {
		exp.LogDir = v
	}
	if v := viper.GetString(EnvStateDir); v != "" {
		exp.BG.StateDir = v
	}
	if v := viper.GetString(EnvAgentBin); v != "" {
		exp.BG.AgentBin = v
	}
}

// Kubeconfig returns the configured kubeconfig path, empty for the
// default resolution chain.
func Kubeconfig() string { return viper.GetString(EnvKubeconfig) }

// Namespace returns the namespace experiment pods land in.
func Namespace() string { return viper.GetString(EnvNamespace) }

// HostPrefix returns the container name prefix for the docker provider.
func HostPrefix() string { return viper.GetString(EnvHostPrefix) }
