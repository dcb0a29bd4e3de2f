package model

// Account is a resolved target account on the delivery platform.
type Account struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Banned      bool   `json:"banned"`
}

// ProductSpec describes the catalog entry an order needs. When AccountID is
// set, entries that account already owns are skipped.
type ProductSpec struct {
	Quantity  int
	Price     int
	AccountID int64
}

// Deliverable is a purchasable catalog entry.
type Deliverable struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Price int    `json:"price"`
}
