package git

// Exported internals for white-box tests.

var (
	AuthenticatedURLForTest = authenticatedURL
	ParsePorcelainForTest   = parsePorcelain
)
