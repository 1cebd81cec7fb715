package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string          `gorm:"not null" json:"name"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	ImageURL    string          `gorm:"type:varchar(1024)" json:"image_url,omitempty"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Stock       int             `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Cart is the mutable per-user collection of items prior to purchase.
// One active cart per user, created lazily on first access.
type Cart struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items"`
}

// CartItem is unique per (cart, product); repeated adds merge quantities.
type CartItem struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CartID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_cart_product" json:"cart_id"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_product" json:"product_id"`
	Quantity  int       `gorm:"not null;check:quantity >= 1" json:"quantity"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	Product   *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

// Order is immutable after creation except for the status fields and the two
// Stripe references. Totals are computed once at creation and never recomputed.
type Order struct {
	ID                    uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID                uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Status                OrderStatus     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	PaymentStatus         PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	PaymentMethod         string          `gorm:"type:varchar(20);not null;default:'card'" json:"payment_method"`
	Subtotal              decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	ShippingCost          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"shipping_cost"`
	TaxAmount             decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax_amount"`
	Total                 decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	ShippingAddress       string          `gorm:"type:jsonb;not null" json:"shipping_address"`
	BillingAddress        *string         `gorm:"type:jsonb" json:"billing_address,omitempty"`
	StripeSessionID       *string         `gorm:"type:varchar(255);index" json:"stripe_session_id,omitempty"`
	StripePaymentIntentID *string         `gorm:"type:varchar(255);index" json:"stripe_payment_intent_id,omitempty"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt             gorm.DeletedAt  `gorm:"index" json:"-"`
	Items                 []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
}

// OrderItem is a frozen copy of a cart line at purchase time. Later price
// changes on Product never affect an existing order.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null" json:"product_id"`
	ProductName string          `gorm:"not null" json:"product_name"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"line_total"`
}

// Address is the request shape for shipping and billing addresses; orders
// store it marshaled as jsonb.
type Address struct {
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
}
