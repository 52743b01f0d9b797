package classify

// Cloud is a cloud provider identifier.
type Cloud string

const (
	CloudAWS   Cloud = "aws"
	CloudGCP   Cloud = "gcp"
	CloudAzure Cloud = "azure"
)

// LiveResource is one resource found by enumerating a cloud account.
type LiveResource struct {
	Cloud   Cloud  `json:"cloud" yaml:"cloud"`
	Type    string `json:"type" yaml:"type"`
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Details string `json:"details,omitempty" yaml:"details,omitempty"`
}

// Classification is the verdict for one live resource.
type Classification string

const (
	Managed         Classification = "MANAGED"
	Rogue           Classification = "ROGUE"
	ProviderManaged Classification = "PROVIDER-MANAGED"
)

// ClassifiedResource is a LiveResource with its verdict.
type ClassifiedResource struct {
	LiveResource
	Classification Classification `json:"classification"`

	// MatchedExclusion is set for PROVIDER-MANAGED resources.
	MatchedExclusion *ExclusionPattern `json:"matchedExclusion,omitempty"`
}

// MatchKind selects which field an exclusion pattern tests.
type MatchKind string

const (
	MatchNamePrefix      MatchKind = "name-prefix"
	MatchNameExact       MatchKind = "name-exact"
	MatchIDContains      MatchKind = "id-contains"
	MatchDetailsContains MatchKind = "details-contains"
)

// ExclusionPattern marks provider-created resources (default VPCs, service
// agents and the like) that must never be flagged.
type ExclusionPattern struct {
	Type        string    `json:"type" yaml:"type"`
	Description string    `json:"description" yaml:"description"`
	Match       MatchKind `json:"match" yaml:"match"`
	Value       string    `json:"value" yaml:"value"`
}

// ExpectedResource is one resource a provisioning stack declares.
type ExpectedResource struct {
	Type             string `json:"type" yaml:"type"`
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	URN              string `json:"urn" yaml:"urn"`
	ProvisioningType string `json:"provisioningType,omitempty" yaml:"provisioningType,omitempty"`
	PulumiType       string `json:"pulumiType,omitempty" yaml:"pulumiType,omitempty"`
}

// StackDeclaration groups the resources of one provisioning stack.
type StackDeclaration struct {
	Name      string             `json:"name" yaml:"name"`
	Cloud     Cloud              `json:"cloud" yaml:"cloud"`
	Account   string             `json:"account" yaml:"account"`
	Region    string             `json:"region" yaml:"region"`
	Resources []ExpectedResource `json:"resources" yaml:"resources"`
}

// Exclusions holds exclusion patterns per cloud.
type Exclusions struct {
	AWS   []ExclusionPattern `json:"aws" yaml:"aws"`
	GCP   []ExclusionPattern `json:"gcp" yaml:"gcp"`
	Azure []ExclusionPattern `json:"azure" yaml:"azure"`
}

// For returns the patterns for cloud c.
func (e Exclusions) For(c Cloud) []ExclusionPattern {
	switch c {
	case CloudAWS:
		return e.AWS
	case CloudGCP:
		return e.GCP
	case CloudAzure:
		return e.Azure
	}
	return nil
}

// ExpectedState is the inventory the provisioning pipeline believes it owns.
// It is produced externally and treated as read-only.
type ExpectedState struct {
	Version     int                `json:"version" yaml:"version"`
	GeneratedAt string             `json:"generatedAt" yaml:"generatedAt"`
	GitSha      string             `json:"gitSha,omitempty" yaml:"gitSha,omitempty"`
	Stacks      []StackDeclaration `json:"stacks" yaml:"stacks"`
	Exclusions  Exclusions         `json:"exclusions" yaml:"exclusions"`
}
