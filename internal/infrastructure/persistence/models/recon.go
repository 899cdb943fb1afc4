package models

import (
	"time"

	"github.com/payops/recon/internal/domain/recon"
	"github.com/shopspring/decimal"
)

// ReconciliationRecordModel is the persistence model for the per-NVC
// reconciliation row. The NVC code is the natural primary key; rows are
// upserted by the sync engine and never deleted.
type ReconciliationRecordModel struct {
	NVCCode string `gorm:"column:nvc_code;type:varchar(50);primaryKey"`

	RemittanceAmount  *decimal.Decimal `gorm:"type:decimal(18,4)"`
	RemittanceDate    *time.Time
	RemittanceSource  string           `gorm:"type:varchar(20)"`
	RemittanceEmailID string           `gorm:"type:varchar(100);index"`

	InvoiceAmount    *decimal.Decimal `gorm:"type:decimal(18,4)"`
	InvoiceStatus    string           `gorm:"type:varchar(30)"`
	InvoiceTenant    string           `gorm:"type:varchar(100);index"`
	InvoicePayrunRef string           `gorm:"type:varchar(100)"`
	InvoiceCurrency  string           `gorm:"type:varchar(10)"`

	ReceivedPaymentID     string           `gorm:"type:varchar(100);index"`
	ReceivedPaymentAmount *decimal.Decimal `gorm:"type:decimal(18,4)"`
	ReceivedPaymentDate   *time.Time

	PaymentAmount           *decimal.Decimal `gorm:"type:decimal(18,4)"`
	PaymentAccountID        string           `gorm:"type:varchar(100)"`
	PaymentDate             *time.Time
	PaymentCurrency         string           `gorm:"type:varchar(10)"`
	PaymentStatus           string           `gorm:"type:varchar(30)"`
	PaymentRecipient        string           `gorm:"type:varchar(200)"`
	PaymentRecipientCountry string           `gorm:"type:varchar(10)"`

	MatchStatus recon.MatchStatus `gorm:"type:varchar(30);not null;default:'unmatched';index"`
	MatchFlags  recon.FlagList    `gorm:"type:text"`

	Notes string `gorm:"type:text"`

	Flag       recon.ReviewFlag `gorm:"type:varchar(20);index"`
	FlagNotes  string           `gorm:"type:text"`
	ResolvedAt *time.Time
	ResolvedBy string `gorm:"type:varchar(100)"`

	FirstSeenAt   time.Time `gorm:"not null"`
	LastUpdatedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (ReconciliationRecordModel) TableName() string {
	return "reconciliation_records"
}

// ToDomain converts the persistence model to a domain ReconciliationRecord.
func (m *ReconciliationRecordModel) ToDomain() *recon.ReconciliationRecord {
	return &recon.ReconciliationRecord{
		NVCCode:                 m.NVCCode,
		RemittanceAmount:        m.RemittanceAmount,
		RemittanceDate:          m.RemittanceDate,
		RemittanceSource:        m.RemittanceSource,
		RemittanceEmailID:       m.RemittanceEmailID,
		InvoiceAmount:           m.InvoiceAmount,
		InvoiceStatus:           m.InvoiceStatus,
		InvoiceTenant:           m.InvoiceTenant,
		InvoicePayrunRef:        m.InvoicePayrunRef,
		InvoiceCurrency:         m.InvoiceCurrency,
		ReceivedPaymentID:       m.ReceivedPaymentID,
		ReceivedPaymentAmount:   m.ReceivedPaymentAmount,
		ReceivedPaymentDate:     m.ReceivedPaymentDate,
		PaymentAmount:           m.PaymentAmount,
		PaymentAccountID:        m.PaymentAccountID,
		PaymentDate:             m.PaymentDate,
		PaymentCurrency:         m.PaymentCurrency,
		PaymentStatus:           m.PaymentStatus,
		PaymentRecipient:        m.PaymentRecipient,
		PaymentRecipientCountry: m.PaymentRecipientCountry,
		MatchStatus:             recon.ParseMatchStatus(string(m.MatchStatus)),
		MatchFlags:              m.MatchFlags,
		Notes:                   m.Notes,
		Flag:                    m.Flag,
		FlagNotes:               m.FlagNotes,
		ResolvedAt:              m.ResolvedAt,
		ResolvedBy:              m.ResolvedBy,
		FirstSeenAt:             m.FirstSeenAt,
		LastUpdatedAt:           m.LastUpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain record.
func (m *ReconciliationRecordModel) FromDomain(r *recon.ReconciliationRecord) {
	m.NVCCode = r.NVCCode
	m.RemittanceAmount = r.RemittanceAmount
	m.RemittanceDate = r.RemittanceDate
	m.RemittanceSource = r.RemittanceSource
	m.RemittanceEmailID = r.RemittanceEmailID
	m.InvoiceAmount = r.InvoiceAmount
	m.InvoiceStatus = r.InvoiceStatus
	m.InvoiceTenant = r.InvoiceTenant
	m.InvoicePayrunRef = r.InvoicePayrunRef
	m.InvoiceCurrency = r.InvoiceCurrency
	m.ReceivedPaymentID = r.ReceivedPaymentID
	m.ReceivedPaymentAmount = r.ReceivedPaymentAmount
	m.ReceivedPaymentDate = r.ReceivedPaymentDate
	m.PaymentAmount = r.PaymentAmount
	m.PaymentAccountID = r.PaymentAccountID
	m.PaymentDate = r.PaymentDate
	m.PaymentCurrency = r.PaymentCurrency
	m.PaymentStatus = r.PaymentStatus
	m.PaymentRecipient = r.PaymentRecipient
	m.PaymentRecipientCountry = r.PaymentRecipientCountry
	m.MatchStatus = r.MatchStatus
	m.MatchFlags = r.MatchFlags
	m.Notes = r.Notes
	m.Flag = r.Flag
	m.FlagNotes = r.FlagNotes
	m.ResolvedAt = r.ResolvedAt
	m.ResolvedBy = r.ResolvedBy
	m.FirstSeenAt = r.FirstSeenAt
	m.LastUpdatedAt = r.LastUpdatedAt
}

// ReconciliationRecordModelFromDomain creates a persistence model from a
// domain record.
func ReconciliationRecordModelFromDomain(r *recon.ReconciliationRecord) *ReconciliationRecordModel {
	m := &ReconciliationRecordModel{}
	m.FromDomain(r)
	return m
}

// EmailModel is the persistence model for cached remittance emails. The
// upstream message id is the primary key.
type EmailModel struct {
	ID              string               `gorm:"type:varchar(100);primaryKey"`
	Source          string               `gorm:"type:varchar(20);index"`
	Subject         string               `gorm:"type:text"`
	Sender          string               `gorm:"type:varchar(200)"`
	EmailDate       *time.Time           `gorm:"index"`
	FetchedAt       time.Time
	Attachments     recon.AttachmentList `gorm:"type:text"`
	RemittanceTotal *decimal.Decimal     `gorm:"type:decimal(18,4)"`
	AgencyName      string               `gorm:"type:varchar(200)"`
	LineCount       int
	ManualReview    bool                 `gorm:"index"`

	ReceivedPaymentID string     `gorm:"type:varchar(100);index"`
	MatchStatus       string     `gorm:"type:varchar(20)"`
	MatchConfidence   *float64
	MatchMethod       string     `gorm:"type:varchar(40)"`
	MatchedAt         *time.Time
}

// TableName returns the table name for GORM
func (EmailModel) TableName() string {
	return "emails"
}

// ToDomain converts the persistence model to a domain CachedEmail.
func (m *EmailModel) ToDomain() *recon.CachedEmail {
	return &recon.CachedEmail{
		ID:                m.ID,
		Source:            m.Source,
		Subject:           m.Subject,
		Sender:            m.Sender,
		EmailDate:         m.EmailDate,
		FetchedAt:         m.FetchedAt,
		Attachments:       m.Attachments,
		RemittanceTotal:   m.RemittanceTotal,
		AgencyName:        m.AgencyName,
		LineCount:         m.LineCount,
		ManualReview:      m.ManualReview,
		ReceivedPaymentID: m.ReceivedPaymentID,
		MatchStatus:       m.MatchStatus,
		MatchConfidence:   m.MatchConfidence,
		MatchMethod:       m.MatchMethod,
		MatchedAt:         m.MatchedAt,
	}
}

// FromDomain populates the persistence model from a domain CachedEmail.
func (m *EmailModel) FromDomain(e *recon.CachedEmail) {
	m.ID = e.ID
	m.Source = e.Source
	m.Subject = e.Subject
	m.Sender = e.Sender
	m.EmailDate = e.EmailDate
	m.FetchedAt = e.FetchedAt
	m.Attachments = e.Attachments
	m.RemittanceTotal = e.RemittanceTotal
	m.AgencyName = e.AgencyName
	m.LineCount = e.LineCount
	m.ManualReview = e.ManualReview
	m.ReceivedPaymentID = e.ReceivedPaymentID
	m.MatchStatus = e.MatchStatus
	m.MatchConfidence = e.MatchConfidence
	m.MatchMethod = e.MatchMethod
	m.MatchedAt = e.MatchedAt
}

// EmailModelFromDomain creates a persistence model from a domain CachedEmail.
func EmailModelFromDomain(e *recon.CachedEmail) *EmailModel {
	m := &EmailModel{}
	m.FromDomain(e)
	return m
}

// InvoiceModel is the persistence model for the invoice cache. The status
// label is derived from the status code on read, never stored.
type InvoiceModel struct {
	NVCCode        string          `gorm:"column:nvc_code;type:varchar(50);primaryKey"`
	InvoiceNumber  string          `gorm:"type:varchar(100)"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(18,4)"`
	Currency       string          `gorm:"type:varchar(10)"`
	Status         int             `gorm:"index"`
	PaidDate       *time.Time
	ProcessingDate *time.Time
	InFlightDate   *time.Time
	Tenant         string          `gorm:"type:varchar(100);index"`
	PayrunID       string          `gorm:"type:varchar(100);index"`
	CreatedDate    *time.Time
	FetchedAt      time.Time
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain CachedInvoice.
func (m *InvoiceModel) ToDomain() *recon.CachedInvoice {
	return &recon.CachedInvoice{
		NVCCode:        m.NVCCode,
		InvoiceNumber:  m.InvoiceNumber,
		TotalAmount:    m.TotalAmount,
		Currency:       m.Currency,
		Status:         m.Status,
		StatusLabel:    recon.InvoiceStatusName(m.Status),
		PaidDate:       m.PaidDate,
		ProcessingDate: m.ProcessingDate,
		InFlightDate:   m.InFlightDate,
		Tenant:         m.Tenant,
		PayrunID:       m.PayrunID,
		CreatedAt:      m.CreatedDate,
		FetchedAt:      m.FetchedAt,
	}
}

// FromDomain populates the persistence model from a domain CachedInvoice.
func (m *InvoiceModel) FromDomain(inv *recon.CachedInvoice) {
	m.NVCCode = inv.NVCCode
	m.InvoiceNumber = inv.InvoiceNumber
	m.TotalAmount = inv.TotalAmount
	m.Currency = inv.Currency
	m.Status = inv.Status
	m.PaidDate = inv.PaidDate
	m.ProcessingDate = inv.ProcessingDate
	m.InFlightDate = inv.InFlightDate
	m.Tenant = inv.Tenant
	m.PayrunID = inv.PayrunID
	m.CreatedDate = inv.CreatedAt
	m.FetchedAt = inv.FetchedAt
}

// InvoiceModelFromDomain creates a persistence model from a domain CachedInvoice.
func InvoiceModelFromDomain(inv *recon.CachedInvoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// PayrunModel is the persistence model for the pay run cache.
type PayrunModel struct {
	ID             string          `gorm:"type:varchar(100);primaryKey"`
	Reference      string          `gorm:"type:varchar(100);index"`
	BatchReference string          `gorm:"type:varchar(100)"`
	Tenant         string          `gorm:"type:varchar(100);index"`
	Status         int
	PaymentCount   int
	TotalAmount    decimal.Decimal `gorm:"type:decimal(18,4)"`
	CreatedDate    *time.Time
	FetchedAt      time.Time
}

// TableName returns the table name for GORM
func (PayrunModel) TableName() string {
	return "payruns"
}

// ToDomain converts the persistence model to a domain CachedPayrun.
func (m *PayrunModel) ToDomain() *recon.CachedPayrun {
	return &recon.CachedPayrun{
		ID:             m.ID,
		Reference:      m.Reference,
		BatchReference: m.BatchReference,
		Tenant:         m.Tenant,
		Status:         m.Status,
		PaymentCount:   m.PaymentCount,
		TotalAmount:    m.TotalAmount,
		CreatedAt:      m.CreatedDate,
		FetchedAt:      m.FetchedAt,
	}
}

// FromDomain populates the persistence model from a domain CachedPayrun.
func (m *PayrunModel) FromDomain(p *recon.CachedPayrun) {
	m.ID = p.ID
	m.Reference = p.Reference
	m.BatchReference = p.BatchReference
	m.Tenant = p.Tenant
	m.Status = p.Status
	m.PaymentCount = p.PaymentCount
	m.TotalAmount = p.TotalAmount
	m.CreatedDate = p.CreatedAt
	m.FetchedAt = p.FetchedAt
}

// PayrunModelFromDomain creates a persistence model from a domain CachedPayrun.
func PayrunModelFromDomain(p *recon.CachedPayrun) *PayrunModel {
	m := &PayrunModel{}
	m.FromDomain(p)
	return m
}

// PaymentModel is the persistence model for the outbound payment cache.
type PaymentModel struct {
	ID               string          `gorm:"type:varchar(100);primaryKey"`
	AccountID        string          `gorm:"type:varchar(100);index"`
	AccountName      string          `gorm:"type:varchar(200)"`
	NVCCode          string          `gorm:"column:nvc_code;type:varchar(50);index"`
	Tenant           string          `gorm:"type:varchar(100);index"`
	Amount           decimal.Decimal `gorm:"type:decimal(18,4)"`
	Currency         string          `gorm:"type:varchar(10)"`
	Status           string          `gorm:"type:varchar(30);index"`
	PaymentDate      *time.Time      `gorm:"index"`
	ValueDate        *time.Time
	RecipientName    string          `gorm:"type:varchar(200)"`
	RecipientCountry string          `gorm:"type:varchar(10)"`
	PaymentReference string          `gorm:"type:varchar(200)"`
	ClientReference  string          `gorm:"type:varchar(200)"`
	BatchReference   string          `gorm:"type:varchar(100)"`
	CreatedDate      *time.Time
	FetchedAt        time.Time
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain CachedPayment.
func (m *PaymentModel) ToDomain() *recon.CachedPayment {
	return &recon.CachedPayment{
		ID:               m.ID,
		AccountID:        m.AccountID,
		AccountName:      m.AccountName,
		NVCCode:          m.NVCCode,
		Tenant:           m.Tenant,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Status:           m.Status,
		PaymentDate:      m.PaymentDate,
		ValueDate:        m.ValueDate,
		RecipientName:    m.RecipientName,
		RecipientCountry: m.RecipientCountry,
		PaymentReference: m.PaymentReference,
		ClientReference:  m.ClientReference,
		BatchReference:   m.BatchReference,
		CreatedAt:        m.CreatedDate,
		FetchedAt:        m.FetchedAt,
	}
}

// FromDomain populates the persistence model from a domain CachedPayment.
func (m *PaymentModel) FromDomain(p *recon.CachedPayment) {
	m.ID = p.ID
	m.AccountID = p.AccountID
	m.AccountName = p.AccountName
	m.NVCCode = p.NVCCode
	m.Tenant = p.Tenant
	m.Amount = p.Amount
	m.Currency = p.Currency
	m.Status = p.Status
	m.PaymentDate = p.PaymentDate
	m.ValueDate = p.ValueDate
	m.RecipientName = p.RecipientName
	m.RecipientCountry = p.RecipientCountry
	m.PaymentReference = p.PaymentReference
	m.ClientReference = p.ClientReference
	m.BatchReference = p.BatchReference
	m.CreatedDate = p.CreatedAt
	m.FetchedAt = p.FetchedAt
}

// PaymentModelFromDomain creates a persistence model from a domain CachedPayment.
func PaymentModelFromDomain(p *recon.CachedPayment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}

// ReceivedPaymentModel is the persistence model for inbound funding receipts.
type ReceivedPaymentModel struct {
	ID            string          `gorm:"type:varchar(100);primaryKey"`
	AccountID     string          `gorm:"type:varchar(100);index"`
	AccountName   string          `gorm:"type:varchar(200)"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,4)"`
	Currency      string          `gorm:"type:varchar(10)"`
	PaymentDate   *time.Time      `gorm:"index"`
	PaymentStatus string          `gorm:"type:varchar(30)"`
	PayerName     string          `gorm:"type:varchar(200)"`
	RawInfo       string          `gorm:"type:text"`
	MSLReference  string          `gorm:"column:msl_reference;type:varchar(100)"`
	CreatedOn     *time.Time
	FetchedAt     time.Time

	MatchStatus     recon.RPStatus `gorm:"type:varchar(20);not null;default:'unmatched';index"`
	MatchedEmailID  string         `gorm:"type:varchar(100);index"`
	MatchConfidence *float64
	MatchMethod     string         `gorm:"type:varchar(40)"`
	MatchedAt       *time.Time
	Notes           string         `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (ReceivedPaymentModel) TableName() string {
	return "received_payments"
}

// ToDomain converts the persistence model to a domain ReceivedPayment.
func (m *ReceivedPaymentModel) ToDomain() *recon.ReceivedPayment {
	return &recon.ReceivedPayment{
		ID:              m.ID,
		AccountID:       m.AccountID,
		AccountName:     m.AccountName,
		Amount:          m.Amount,
		Currency:        m.Currency,
		PaymentDate:     m.PaymentDate,
		PaymentStatus:   m.PaymentStatus,
		PayerName:       m.PayerName,
		RawInfo:         m.RawInfo,
		MSLReference:    m.MSLReference,
		CreatedOn:       m.CreatedOn,
		FetchedAt:       m.FetchedAt,
		MatchStatus:     m.MatchStatus,
		MatchedEmailID:  m.MatchedEmailID,
		MatchConfidence: m.MatchConfidence,
		MatchMethod:     m.MatchMethod,
		MatchedAt:       m.MatchedAt,
		Notes:           m.Notes,
	}
}

// FromDomain populates the persistence model from a domain ReceivedPayment.
func (m *ReceivedPaymentModel) FromDomain(rp *recon.ReceivedPayment) {
	m.ID = rp.ID
	m.AccountID = rp.AccountID
	m.AccountName = rp.AccountName
	m.Amount = rp.Amount
	m.Currency = rp.Currency
	m.PaymentDate = rp.PaymentDate
	m.PaymentStatus = rp.PaymentStatus
	m.PayerName = rp.PayerName
	m.RawInfo = rp.RawInfo
	m.MSLReference = rp.MSLReference
	m.CreatedOn = rp.CreatedOn
	m.FetchedAt = rp.FetchedAt
	m.MatchStatus = rp.MatchStatus
	m.MatchedEmailID = rp.MatchedEmailID
	m.MatchConfidence = rp.MatchConfidence
	m.MatchMethod = rp.MatchMethod
	m.MatchedAt = rp.MatchedAt
	m.Notes = rp.Notes
}

// ReceivedPaymentModelFromDomain creates a persistence model from a domain
// ReceivedPayment.
func ReceivedPaymentModelFromDomain(rp *recon.ReceivedPayment) *ReceivedPaymentModel {
	m := &ReceivedPaymentModel{}
	m.FromDomain(rp)
	return m
}

// SyncStateModel is the persistence model for per-source sync outcomes.
type SyncStateModel struct {
	Source     string     `gorm:"type:varchar(40);primaryKey"`
	LastSyncAt *time.Time
	LastCount  int
	Status     string     `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (SyncStateModel) TableName() string {
	return "sync_state"
}

// ToDomain converts the persistence model to a domain SyncState.
func (m *SyncStateModel) ToDomain() *recon.SyncState {
	return &recon.SyncState{
		Source:     m.Source,
		LastSyncAt: m.LastSyncAt,
		LastCount:  m.LastCount,
		Status:     m.Status,
	}
}
