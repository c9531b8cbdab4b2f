package service

import "context"

// TxRepositories provides transaction-bound repositories. Writes made through
// them, including job submissions, commit or roll back together.
type TxRepositories interface {
	Documents() DocumentRepository
	Chunks() ChunkRepository
	Campaigns() CampaignRepository
	Templates() TemplateRepository
	Jobs() JobStore
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
