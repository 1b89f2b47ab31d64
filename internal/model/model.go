package model

type AppKind string

type StoreKind string

const (
	AppName = "logixinvent"

	// AppKindScanner runs a single system discovery from the command line.
	AppKindScanner AppKind = "scanner"
	// AppKindWorker discovers every configured system concurrently.
	AppKindWorker AppKind = "worker"
	AppKindClient AppKind = "client"

	StoreKindMemory StoreKind = "memory"
	StoreKindJSON   StoreKind = "json"
	StoreKindYAML   StoreKind = "yaml"
	StoreKindSQLite StoreKind = "sqlite"

	LogLevelInfo  = 0
	LogLevelDebug = 1
	LogLevelTrace = 2
)

// AppKinds returns the supported app kinds
func AppKinds() []AppKind { return []AppKind{AppKindScanner, AppKindWorker, AppKindClient} }

// StoreKinds returns the supported topology snapshot stores
func StoreKinds() []StoreKind {
	return []StoreKind{StoreKindMemory, StoreKindJSON, StoreKindYAML, StoreKindSQLite}
}

// IntPtr returns a pointer to the given int, for the optional fields on Module and BackplaneRecord.
func IntPtr(i int) *int {
	return &i
}
