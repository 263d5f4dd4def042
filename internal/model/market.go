package model

import "time"

// Product is a marketplace listing as returned by the product service.
type Product struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	Quantity     int       `json:"quantity"`
	SellerPubkey string    `json:"sellerPubkey"`
	Images       []string  `json:"images,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// OrderRequest is the payload sent to the order service.
type OrderRequest struct {
	ProductID       string `json:"productId"`
	Quantity        int    `json:"quantity"`
	BuyerPubkey     string `json:"buyerPubkey"`
	ShippingAddress string `json:"shippingAddress,omitempty"`
	Note            string `json:"note,omitempty"`
}

// Order is an order as returned by the order service.
type Order struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	Quantity    int       `json:"quantity"`
	BuyerPubkey string    `json:"buyerPubkey"`
	Status      string    `json:"status"`
	Total       float64   `json:"total"`
	Currency    string    `json:"currency"`
	InvoiceURL  string    `json:"invoiceUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OrderRecord is the gateway's ledger row for an order placed through an API
// key. It references api_keys by foreign key.
type OrderRecord struct {
	ID          int64     `json:"id" db:"id"`
	OrderID     string    `json:"orderId" db:"order_id"`
	APIKeyID    int64     `json:"apiKeyId" db:"api_key_id"`
	ProductID   string    `json:"productId" db:"product_id"`
	Quantity    int       `json:"quantity" db:"quantity"`
	BuyerPubkey string    `json:"buyerPubkey" db:"buyer_pubkey"`
	Status      string    `json:"status" db:"status"`
	Total       float64   `json:"total" db:"total"`
	Currency    string    `json:"currency" db:"currency"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// MarketStats are aggregate counts reported by the marketplace services.
type MarketStats struct {
	Products int64 `json:"products"`
	Orders   int64 `json:"orders"`
	Sellers  int64 `json:"sellers"`
}
