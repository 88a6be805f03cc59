package reports

// FetchRequest for the download collaborator. The session is already
// acquired and switched to the tenant when this is issued.
type FetchRequest struct {
	TenantExternalID string
	TenantName       string
	TenantShortCode  string
	ReportType       ReportType
	Period           Period
}

// FetchResult is the local file descriptor a successful download produces.
type FetchResult struct {
	FilePath  string
	FileName  string
	SizeBytes int64
}
