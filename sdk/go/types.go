package freshchainsdk

// User is the authenticated principal returned by login.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

type LoginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    User   `json:"user"`
	Message string `json:"message"`
}

type Health struct {
	Status              string `json:"status"`
	BlockchainConnected bool   `json:"blockchain_connected"`
	Network             string `json:"network"`
}

// ParentOfferPayload records a harvest lot.
type ParentOfferPayload struct {
	ProductType   string         `json:"productType"`
	Unit          string         `json:"unit"`
	BasePrice     float64        `json:"basePrice"`
	TotalQuantity float64        `json:"totalQuantity"`
	Currency      string         `json:"currency,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ParentOffer is a producer's harvest lot available for bidding.
type ParentOffer struct {
	ParentID          string         `json:"parentId"`
	ParentBatchNumber string         `json:"parentBatchNumber"`
	Producer          string         `json:"producer"`
	ProductType       string         `json:"productType"`
	Unit              string         `json:"unit"`
	BasePrice         float64        `json:"basePrice"`
	PricingCurrency   string         `json:"pricingCurrency"`
	TotalQuantity     float64        `json:"totalQuantity"`
	AvailableQuantity float64        `json:"availableQuantity"`
	Status            string         `json:"status"`
	CreatedAt         string         `json:"createdAt"`
	PublishedAt       string         `json:"publishedAt,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type PaymentInfo struct {
	OrderID   string `json:"orderId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	PaymentID string `json:"paymentId,omitempty"`
	PaidAt    string `json:"paidAt,omitempty"`
}

// MarketplaceRequest is a retailer's bid against a parent offer.
type MarketplaceRequest struct {
	RequestID         string       `json:"requestId"`
	ParentID          string       `json:"parentId"`
	ParentBatchNumber string       `json:"parentBatchNumber,omitempty"`
	ParentProductType string       `json:"parentProductType,omitempty"`
	Retailer          string       `json:"retailer"`
	Producer          string       `json:"producer,omitempty"`
	Quantity          float64      `json:"quantity"`
	BidPrice          float64      `json:"bidPrice"`
	Status            string       `json:"status"`
	CreatedAt         string       `json:"createdAt"`
	ApprovedAt        string       `json:"approvedAt,omitempty"`
	Currency          string       `json:"currency"`
	AdvancePercent    float64      `json:"advancePercent"`
	Payment           *PaymentInfo `json:"payment,omitempty"`
	ChildBatchID      string       `json:"childBatchId,omitempty"`
	FulfilledAt       string       `json:"fulfilledAt,omitempty"`
}

type RetailerBidPayload struct {
	ParentID string  `json:"parentId"`
	Quantity float64 `json:"quantity"`
	BidPrice float64 `json:"bidPrice"`
}

// PaymentOrderResult carries the checkout parameters issued by the backend.
type PaymentOrderResult struct {
	OrderID  string         `json:"orderId"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Order    map[string]any `json:"order,omitempty"`
}

type PaymentConfirmationPayload struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Signature string `json:"signature,omitempty"`
}

type FulfillBidPayload struct {
	ChildBatchID string `json:"childBatchId"`
	ProductType  string `json:"productType,omitempty"`
}

// RequestEvent is one entry of a request's transition log.
type RequestEvent struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"ts"`
	Type      string `json:"type"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload,omitempty"`
}

// Batch stages as reported by the backend.
const (
	StageCreated    = "Created"
	StageHarvested  = "Harvested"
	StageInTransit  = "In Transit"
	StageAtRetailer = "At Retailer"
	StageSelling    = "Selling"
)

type BatchCreationRequest struct {
	BatchID     string `json:"batchId"`
	ProductType string `json:"productType"`
}

type BatchUpdateRequest struct {
	BatchID  string `json:"batchId"`
	Stage    string `json:"stage"`
	Location string `json:"location"`
}

type ReportAlertRequest struct {
	BatchID       string `json:"batchId"`
	AlertType     string `json:"alertType"`
	EncryptedData string `json:"encryptedData"`
}

type LocationUpdate struct {
	Stage           string `json:"stage"`
	Location        string `json:"location"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transactionHash"`
	UpdatedBy       string `json:"updatedBy"`
}

type Alert struct {
	AlertType       string `json:"alertType"`
	EncryptedData   string `json:"encryptedData"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transactionHash"`
}

type BatchDetails struct {
	BatchID         string           `json:"batchId"`
	ProductType     string           `json:"productType"`
	Created         string           `json:"created"`
	CurrentStage    string           `json:"currentStage"`
	CurrentLocation string           `json:"currentLocation"`
	LocationHistory []LocationUpdate `json:"locationHistory"`
	Alerts          []Alert          `json:"alerts"`
	IsActive        bool             `json:"isActive"`
	IsFinalStage    bool             `json:"isFinalStage"`
}

// Sensor location types.
const (
	SensorTransporter = "transporter"
	SensorRetailer    = "retailer"
)

type QRLinkRequest struct {
	BatchID      string `json:"batchId"`
	SensorID     string `json:"sensorId"`
	LocationType string `json:"locationType"`
	QRPayload    string `json:"qrPayload,omitempty"`
}

type SensorRegistration struct {
	SensorID   string `json:"sensorId"`
	BatchID    string `json:"batchId"`
	SensorType string `json:"sensorType"`
}

type SensorDataSubmission struct {
	BatchID     string  `json:"batchId"`
	SensorID    string  `json:"sensorId"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

type SensorReading struct {
	BatchID     string  `json:"batchId"`
	SensorID    string  `json:"sensorId"`
	SensorType  string  `json:"sensorType"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
	Source      string  `json:"source"`
}

type SensorReadingsResponse struct {
	Readings []SensorReading `json:"readings"`
}

type FreshnessResult struct {
	BatchID           string  `json:"batchId,omitempty"`
	FreshnessScore    float64 `json:"freshnessScore"`
	FreshnessCategory string  `json:"freshnessCategory"`
	Confidence        float64 `json:"confidence"`
	Message           string  `json:"message"`
	DominantClass     string  `json:"dominantClass,omitempty"`
	DominantScore     float64 `json:"dominantScore,omitempty"`
}
