// Package model holds the domain entities of the control plane: zones,
// records, forwarders, RPZ rules, threat feeds, backups and query logs.
// These are plain structs at the service boundary; the store package maps
// them to and from Postgres types.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ZoneType distinguishes how the resolver treats a zone.
type ZoneType string

const (
	ZoneMaster  ZoneType = "master"
	ZoneSlave   ZoneType = "slave"
	ZoneForward ZoneType = "forward"
)

// Zone is a DNS administrative subtree the control plane manages.
type Zone struct {
	ID         uuid.UUID
	Name       string
	Type       ZoneType
	AdminEmail string // DNS-dotted form, e.g. "admin.example.com"

	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32

	// MasterServers is required for slave zones (the IPs to transfer from).
	MasterServers []string
	// ForwarderIPs is required for forward zones.
	ForwarderIPs []string

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordType is a DNS resource record type the control plane knows how to
// validate and render.
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeMX    RecordType = "MX"
	TypeTXT   RecordType = "TXT"
	TypeSRV   RecordType = "SRV"
	TypePTR   RecordType = "PTR"
	TypeNS    RecordType = "NS"
	TypeSOA   RecordType = "SOA"
	TypeCAA   RecordType = "CAA"
	TypeSSHFP RecordType = "SSHFP"
	TypeTLSA  RecordType = "TLSA"
	TypeNAPTR RecordType = "NAPTR"
	TypeLOC   RecordType = "LOC"
)

// Record is one row of a master zone's data.
type Record struct {
	ID     uuid.UUID
	ZoneID uuid.UUID

	Name  string // relative owner name, "@" for the apex
	Type  RecordType
	Value string
	TTL   uint32

	// Priority is used by MX and SRV; Weight and Port by SRV only.
	Priority *uint16
	Weight   *uint16
	Port     *uint16

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityTuple returns the uniqueness key of a record within its zone.
func (r Record) IdentityTuple() RecordIdentity {
	id := RecordIdentity{Name: r.Name, Type: r.Type, Value: r.Value}
	if r.Priority != nil {
		id.Priority = *r.Priority
		id.HasPriority = true
	}
	if r.Weight != nil {
		id.Weight = *r.Weight
		id.HasWeight = true
	}
	if r.Port != nil {
		id.Port = *r.Port
		id.HasPort = true
	}
	return id
}

// RecordIdentity is the comparable form of a record's uniqueness tuple.
type RecordIdentity struct {
	Name        string
	Type        RecordType
	Value       string
	Priority    uint16
	HasPriority bool
	Weight      uint16
	HasWeight   bool
	Port        uint16
	HasPort     bool
}

// ForwarderType labels what kind of upstream a forwarder points at.
type ForwarderType string

const (
	ForwarderActiveDirectory ForwarderType = "active_directory"
	ForwarderIntranet        ForwarderType = "intranet"
	ForwarderPublic          ForwarderType = "public"
)

// ForwarderServer is one upstream DNS server inside a forwarder.
type ForwarderServer struct {
	IP       string
	Port     uint16
	Priority uint8 // 1..10, lower probes first
}

// Forwarder is a conditional-forwarding policy: a set of domains routed to
// an ordered list of upstream servers.
type Forwarder struct {
	ID      uuid.UUID
	Name    string
	Type    ForwarderType
	Domains []string
	Servers []ForwarderServer

	HealthCheckEnabled bool
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HealthStatus classifies the outcome of a single upstream probe.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthTimeout   HealthStatus = "timeout"
	HealthError     HealthStatus = "error"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ForwarderStatus is the aggregate over a forwarder's servers.
type ForwarderStatus string

const (
	StatusHealthy   ForwarderStatus = "healthy"
	StatusDegraded  ForwarderStatus = "degraded"
	StatusUnhealthy ForwarderStatus = "unhealthy"
	StatusUnknown   ForwarderStatus = "unknown"
)

// ForwarderHealth is one probe outcome for one upstream server. Rows are
// insert-only and pruned by retention.
type ForwarderHealth struct {
	ID             uuid.UUID
	ForwarderID    uuid.UUID
	ServerIP       string
	Status         HealthStatus
	ResponseTimeMs *float64
	ErrorMessage   string
	CheckedAt      time.Time
}

// RPZAction is what the resolver does when a rule's domain matches.
type RPZAction string

const (
	ActionBlock    RPZAction = "block"
	ActionRedirect RPZAction = "redirect"
	ActionPassthru RPZAction = "passthru"
)

// RPZRule is one domain-matching rule inside a response policy zone.
type RPZRule struct {
	ID      uuid.UUID
	RPZZone string // category, e.g. "malware", "phishing"
	Domain  string // DNS name or wildcard ("*.example.com")
	Action  RPZAction
	// RedirectTarget is required iff Action == ActionRedirect.
	RedirectTarget string
	// Source is "manual", "bulk_import" or "threat_feed:<name>".
	Source      string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FeedFormat is the wire format of an external threat feed.
type FeedFormat string

const (
	FormatDomains FeedFormat = "domains"
	FormatHosts   FeedFormat = "hosts"
	FormatJSON    FeedFormat = "json"
	FormatCSV     FeedFormat = "csv"
)

// FeedStatus is the outcome of the most recent refresh of a feed.
type FeedStatus string

const (
	FeedOK      FeedStatus = "ok"
	FeedPartial FeedStatus = "partial"
	FeedFailed  FeedStatus = "failed"
	FeedNever   FeedStatus = "never"
)

// ThreatFeed is an externally hosted domain list ingested into RPZ rules.
type ThreatFeed struct {
	ID               uuid.UUID
	Name             string
	URL              string
	FeedType         string // category label, becomes the rpz_zone
	Format           FeedFormat
	UpdateFrequency  time.Duration
	LastUpdateAt     *time.Time
	LastUpdateStatus FeedStatus
	RulesCount       int
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BackupType partitions the backup tree by what was captured.
type BackupType string

const (
	BackupZoneFile      BackupType = "zone_file"
	BackupRPZFile       BackupType = "rpz_file"
	BackupConfiguration BackupType = "configuration"
	BackupFullConfig    BackupType = "full_config"
)

// BackupFile is one captured file inside a backup.
type BackupFile struct {
	OriginalPath string `json:"original_path"`
	StoredPath   string `json:"stored_path"`
	SHA256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
}

// Backup is the metadata of one backup entry.
type Backup struct {
	ID          uuid.UUID    `json:"id"`
	Type        BackupType   `json:"type"`
	Description string       `json:"description"`
	Files       []BackupFile `json:"files"`
	CreatedAt   time.Time    `json:"created_at"`
}

// QueryLogRow is one parsed resolver query-log line. Insert-only.
type QueryLogRow struct {
	Timestamp      time.Time
	ClientIP       string
	ClientPort     uint16
	QueryName      string
	QueryType      string
	ResponseCode   string
	Blocked        bool
	RPZZone        string
	RPZAction      string
	ResponseTimeMs float64
	CacheHit       bool
}

// QueryLogStats is the aggregate the health summary exposes.
type QueryLogStats struct {
	Total       int64
	Blocked     int64
	CacheHits   int64
	TopDomains  []DomainCount
	TopClients  []ClientCount
	WindowStart time.Time
	WindowEnd   time.Time
}

type DomainCount struct {
	Domain string
	Count  int64
}

type ClientCount struct {
	ClientIP string
	Count    int64
}

// AuditEntry records one mutation through the store gateway.
type AuditEntry struct {
	ID         uuid.UUID
	Actor      string
	Action     string // "create", "update", "delete", "bulk_upsert", ...
	EntityType string
	EntityID   string
	Before     []byte // JSON snapshot, nil on create
	After      []byte // JSON snapshot, nil on delete
	CreatedAt  time.Time
}

// BulkResult reports the per-row outcome of a bulk operation. A bad row
// never aborts the batch.
type BulkResult struct {
	Total   int
	Added   int
	Updated int
	Skipped int
	Errors  []BulkRowError
}

// BulkRowError ties a row index to the reason it was rejected.
type BulkRowError struct {
	Index  int
	Value  string
	Reason string
}
