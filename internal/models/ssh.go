package models

// SSHShutdownConfig holds the settings used to power down the storage host
// after a run.
type SSHShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath when empty
	KeyPath       string
	KnownHosts    string // known_hosts file; empty skips host key verification
	ShutdownDelay int    // minutes
	OS            string // "linux" (default) or "windows"
	OnFailure     bool   // also shut down when the run failed
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Command    string
	Output     string
	Error      error
}
