package config

const (
	defaultDataDir             = "~/.local/share/capstan"
	defaultLogDir              = "~/.local/share/capstan/logs"
	defaultAPIBind             = "127.0.0.1:7318"
	defaultLogLevel            = "info"
	defaultLogFormat           = "console"
	defaultReleaseBranch       = "master"
	defaultRegistryPasswordEnv = "CAPSTAN_REGISTRY_PASSWORD"
	defaultDeployPort          = 22
	defaultDeployScriptPath    = "/opt/deploy/redeploy.sh"
	defaultDeployKeyPath       = "~/.ssh/capstan_deploy"
	defaultDeployTimeout       = 120
	defaultDockerBinary        = "docker"
	defaultBuilderImage        = "golang:1.25"
	defaultRuntimeImage        = "gcr.io/distroless/static-debian12"
	defaultTestCommand         = "go test -mod=vendor ./..."
	defaultCompileCommand      = "CGO_ENABLED=0 go build -mod=vendor -trimpath -o /out/app ."
	defaultTestTimeout         = 1800
	defaultBuildTimeout        = 1800
	defaultPollInterval        = 2
	defaultErrorRetryInterval  = 5
	defaultWorkerCount         = 4
	defaultMaintenanceInterval = 60
	defaultRetentionSeconds    = 0
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Log: Log{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Repo: Repo{
			ReleaseBranch: defaultReleaseBranch,
		},
		Registry: Registry{
			PasswordEnv: defaultRegistryPasswordEnv,
		},
		Deploy: Deploy{
			Port:           defaultDeployPort,
			ScriptPath:     defaultDeployScriptPath,
			KeyPath:        defaultDeployKeyPath,
			TimeoutSeconds: defaultDeployTimeout,
		},
		Build: Build{
			DockerBinary:       defaultDockerBinary,
			BuilderImage:       defaultBuilderImage,
			RuntimeImage:       defaultRuntimeImage,
			TestCommand:        defaultTestCommand,
			CompileCommand:     defaultCompileCommand,
			TestTimeoutSeconds: defaultTestTimeout,
			TimeoutSeconds:     defaultBuildTimeout,
		},
		Workflow: Workflow{
			PollIntervalSeconds:        defaultPollInterval,
			ErrorRetryIntervalSeconds:  defaultErrorRetryInterval,
			WorkerCount:                defaultWorkerCount,
			MaintenanceIntervalSeconds: defaultMaintenanceInterval,
			RetentionSeconds:           defaultRetentionSeconds,
		},
	}
}
