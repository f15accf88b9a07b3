package ledger

import "github.com/brandforge/ledger/types"

// Re-export common types for convenience so users don't have to import
// the types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Document is re-exported from types package.
type Document = types.Document

// Re-export Money constructors
var (
	USD  = types.USD
	EUR  = types.EUR
	GBP  = types.GBP
	Zero = types.Zero
)

// Re-export Document constructors
var (
	Doc      = types.Doc
	ErrorDoc = types.ErrorDoc
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
