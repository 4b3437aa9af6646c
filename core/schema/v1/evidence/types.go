package evidence

const ToolName = "ci-evidence-pack"

type Metadata struct {
	Tool           string `json:"tool"`
	Version        string `json:"version"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}

const (
	InputTypeFile = "file"
	InputTypeDir  = "dir"
)

type InputEntry struct {
	Src  string `json:"src"`
	Type string `json:"type"`
}

// CreateResult is the payload reported after a bundle is written. SigPath and
// CertPath encode as null when the bundle is unsigned.
type CreateResult struct {
	BundlePath      string  `json:"bundle_path"`
	BundleSHA256    string  `json:"bundle_sha256"`
	FileCount       int     `json:"file_count"`
	SBOMTool        string  `json:"sbom_tool"`
	Signed          bool    `json:"signed"`
	SigPath         *string `json:"sig_path"`
	CertPath        *string `json:"cert_path"`
	SourceDateEpoch int64   `json:"source_date_epoch"`
}

type DiffResult struct {
	Left             string   `json:"left"`
	Right            string   `json:"right"`
	Identical        bool     `json:"identical"`
	ArchiveIdentical bool     `json:"archive_identical"`
	Added            []string `json:"added"`
	Removed          []string `json:"removed"`
	Changed          []string `json:"changed"`
}
