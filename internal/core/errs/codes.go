package errs

// ErrorCode identifies a failure class. The set is closed; callers switch on it.
type ErrorCode string

const (
	CodeUnknown       ErrorCode = "UNKNOWN_ERROR"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	CodeFileNotFound      ErrorCode = "FILE_NOT_FOUND"
	CodeFileCorrupted     ErrorCode = "FILE_CORRUPTED"
	CodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	CodeExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	CodeMemoryExceeded    ErrorCode = "MEMORY_EXCEEDED"

	CodeNetworkTimeout          ErrorCode = "NETWORK_TIMEOUT"
	CodeNetworkConnectionFailed ErrorCode = "NETWORK_CONNECTION_FAILED"
	CodeDownloadSizeExceeded    ErrorCode = "DOWNLOAD_SIZE_EXCEEDED"
	CodeHTTPError               ErrorCode = "HTTP_ERROR"

	CodeValidationSchema  ErrorCode = "VALIDATION_SCHEMA"
	CodeValidationContent ErrorCode = "VALIDATION_CONTENT"
	CodeValidationType    ErrorCode = "VALIDATION_TYPE"

	CodeEngineNotFound        ErrorCode = "ENGINE_NOT_FOUND"
	CodeEngineInitFailed      ErrorCode = "ENGINE_INIT_FAILED"
	CodeEngineExecutionFailed ErrorCode = "ENGINE_EXECUTION_FAILED"
)

// Kind groups codes into the error families exposed to callers.
type Kind string

const (
	KindGeneric    Kind = "ProcessingError"
	KindExtraction Kind = "ExtractionError"
	KindValidation Kind = "ValidationError"
	KindNetwork    Kind = "NetworkError"
	KindEngine     Kind = "EngineError"
)

var codeKinds = map[ErrorCode]Kind{
	CodeUnknown:       KindGeneric,
	CodeInvalidInput:  KindGeneric,
	CodeConfiguration: KindGeneric,

	CodeFileNotFound:      KindExtraction,
	CodeFileCorrupted:     KindExtraction,
	CodeUnsupportedFormat: KindExtraction,
	CodeExtractionFailed:  KindExtraction,
	CodeMemoryExceeded:    KindExtraction,

	CodeNetworkTimeout:          KindNetwork,
	CodeNetworkConnectionFailed: KindNetwork,
	CodeDownloadSizeExceeded:    KindNetwork,
	CodeHTTPError:               KindNetwork,

	CodeValidationSchema:  KindValidation,
	CodeValidationContent: KindValidation,
	CodeValidationType:    KindValidation,

	CodeEngineNotFound:        KindEngine,
	CodeEngineInitFailed:      KindEngine,
	CodeEngineExecutionFailed: KindEngine,
}

// Kind returns the family the code belongs to. Unknown codes are generic.
func (c ErrorCode) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindGeneric
}

// Valid reports whether c is one of the declared codes.
func (c ErrorCode) Valid() bool {
	_, ok := codeKinds[c]
	return ok
}

func (c ErrorCode) String() string { return string(c) }
