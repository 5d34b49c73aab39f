package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"ealtrack/internal/serial"
)

type Market string

const (
	MarketLocal  Market = "local"
	MarketExport Market = "export"
)

func (m Market) Valid() bool {
	return m == MarketLocal || m == MarketExport
}

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Pack struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	BottlesPerCase int64     `json:"bottlesPerCase"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Company   string    `json:"company"`
	Market    Market    `json:"market"`
	Pack      string    `json:"pack"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeliveryLocation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CompanyCreateRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type PackCreateRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	BottlesPerCase int64  `json:"bottlesPerCase" validate:"gt=0"`
}

type ItemCreateRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Company string `json:"company" validate:"required"`
	Market  string `json:"market" validate:"required,oneof=local export"`
	Pack    string `json:"pack" validate:"required"`
}

type DeliveryLocationCreateRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=500"`
}

// IssuanceRecord is one allotment of labels received from the excise
// authority. BalanceQuantity is maintained by usage draws.
type IssuanceRecord struct {
	ID         string    `json:"id"`
	Company    string    `json:"company"`
	Market     Market    `json:"market"`
	Pack       string    `json:"pack"`
	DateIssued time.Time `json:"dateIssued"`
	serial.Range
	IssuedQuantity  int64     `json:"issuedQuantity"`
	BalanceQuantity int64     `json:"balanceQuantity"`
	CreatedBy       string    `json:"createdBy"`
	CreatedAt       time.Time `json:"createdAt"`
}

type IssuanceCreateRequest struct {
	Company        string `json:"company" validate:"required"`
	Market         string `json:"market" validate:"required,oneof=local export"`
	Pack           string `json:"pack" validate:"required"`
	DateIssued     string `json:"dateIssued" validate:"required,isodate"`
	Prefix         string `json:"prefix" validate:"required,ealprefix"`
	SerialFrom     string `json:"serialFrom" validate:"required,serial10"`
	SerialTo       string `json:"serialTo" validate:"required,serial10"`
	IssuedQuantity int64  `json:"issuedQuantity" validate:"gt=0"`
	IdempotencyKey string `json:"-"`
}

// UsageSource is the part of one issuance a usage record drew from.
type UsageSource struct {
	IssuanceID string `json:"issuanceId"`
	serial.Range
	Quantity int64 `json:"quantity"`
}

// UsageRecord is the consumption of labels against produced cases of an
// item. BalanceQuantityInCases is maintained by dispatch link/unlink.
type UsageRecord struct {
	ID       string    `json:"id"`
	Company  string    `json:"company"`
	Market   Market    `json:"market"`
	Item     string    `json:"item"`
	Pack     string    `json:"pack"`
	DateUsed time.Time `json:"dateUsed"`
	serial.Range
	UsedQuantity           int64         `json:"usedQuantity"`
	UsedQuantityInCases    int64         `json:"usedQuantityInCases"`
	BalanceQuantityInCases int64         `json:"balanceQuantityInCases"`
	Sources                []UsageSource `json:"sources"`
	CreatedBy              string        `json:"createdBy"`
	CreatedAt              time.Time     `json:"createdAt"`
}

type UsageCreateRequest struct {
	Company             string `json:"company" validate:"required"`
	Market              string `json:"market" validate:"required,oneof=local export"`
	Item                string `json:"item" validate:"required"`
	Pack                string `json:"pack" validate:"required"`
	DateUsed            string `json:"dateUsed" validate:"required,isodate"`
	UsedQuantityInCases int64  `json:"usedQuantityInCases" validate:"gt=0"`
	Prefix              string `json:"prefix" validate:"required,ealprefix"`
	SerialFrom          string `json:"serialFrom" validate:"required,serial10"`
	SerialTo            string `json:"serialTo" validate:"required,serial10"`
	UsedQuantity        int64  `json:"usedQuantity" validate:"gt=0"`
	IdempotencyKey      string `json:"-"`
}

type DispatchStatus string

const (
	DispatchDraft  DispatchStatus = "draft"
	DispatchFinal  DispatchStatus = "final"
	DispatchLoaded DispatchStatus = "loaded"
)

type VehicleDetails struct {
	VehicleNumber string `json:"vehicleNumber"`
	DriverName    string `json:"driverName"`
	DriverContact string `json:"driverContact"`
}

// EALLink is a sub-range of a usage record allocated to a dispatch line.
type EALLink struct {
	ID string `json:"id"`
	serial.Range
	UsageID      string    `json:"usageId"`
	UsedQuantity int64     `json:"usedQuantity"`
	UsedCases    int64     `json:"usedCases"`
	LinkedBy     string    `json:"linkedBy"`
	LinkedAt     time.Time `json:"linkedAt"`
}

type DispatchItem struct {
	Item              string    `json:"item"`
	QuantityInCases   int64     `json:"quantityInCases"`
	EALIssuedQuantity int64     `json:"EALIssuedQuantity"`
	EALLinks          []EALLink `json:"EALLinks"`
}

type DispatchRecord struct {
	ID                     string          `json:"id"`
	Company                string          `json:"company"`
	Market                 Market          `json:"market"`
	DeliveryTo             string          `json:"deliveryTo"`
	DateDispatched         time.Time       `json:"dateDispatched"`
	Status                 DispatchStatus  `json:"status"`
	VehicleDetails         *VehicleDetails `json:"vehicleDetails,omitempty"`
	Items                  []DispatchItem  `json:"items"`
	TotalQuantity          int64           `json:"totalQuantity"`
	EALIssuedTotalQuantity int64           `json:"EALIssuedTotalQuantity"`
	CreatedBy              string          `json:"createdBy"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// ItemByID returns the dispatch line for itemID.
func (d *DispatchRecord) ItemByID(itemID string) (*DispatchItem, bool) {
	for i := range d.Items {
		if d.Items[i].Item == itemID {
			return &d.Items[i], true
		}
	}
	return nil, false
}

type DispatchItemRequest struct {
	Item            string `json:"item" validate:"required"`
	QuantityInCases int64  `json:"quantityInCases" validate:"gt=0"`
}

type DispatchRequest struct {
	Company        string                `json:"company" validate:"required"`
	Market         string                `json:"market" validate:"required,oneof=local export"`
	DateDispatched string                `json:"dateDispatched" validate:"required,isodate"`
	DeliveryTo     string                `json:"deliveryTo" validate:"required"`
	Items          []DispatchItemRequest `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey string                `json:"-"`
}

type DispatchStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft final loaded"`
}

type VehicleRequest struct {
	VehicleNumber string `json:"vehicleNumber" validate:"required,max=40"`
	DriverName    string `json:"driverName" validate:"required,max=120"`
	DriverContact string `json:"driverContact" validate:"required,max=40"`
	Status        string `json:"status" validate:"omitempty,eq=loaded"`
}

type EALLinkRequest struct {
	DispatchID   string `json:"dispatchId" validate:"required"`
	ItemID       string `json:"itemId" validate:"required"`
	Prefix       string `json:"prefix" validate:"required,ealprefix"`
	SerialFrom   string `json:"serialFrom" validate:"required,serial10"`
	SerialTo     string `json:"serialTo" validate:"required,serial10"`
	Confirmation string `json:"confirmation,omitempty"`
}

type EALLinkResponse struct {
	Message         string         `json:"message"`
	UpdatedDispatch DispatchRecord `json:"updatedDispatch"`
}

type ListFilter struct {
	StartDate   *time.Time
	EndDate     *time.Time
	BalanceOnly bool
	Company     string
	Market      Market
	Pack        string
	Item        string
	Status      DispatchStatus
}

type EALLookupRequest struct {
	EALNumber string
	Company   string
	Market    string
	Pack      string
	UsedDate  string
}

type EALLookupResult struct {
	Prefix    string           `json:"prefix"`
	Serial    serial.Number    `json:"serial"`
	Issuance  []IssuanceRecord `json:"issuance"`
	Usage     *UsageRecord     `json:"usage"`
	Dispatch  *DispatchRecord  `json:"dispatch"`
	Narrative string           `json:"narrative"`
}

type IssuanceStock struct {
	Company             string           `json:"company"`
	CompanyName         string           `json:"companyName"`
	Market              Market           `json:"market"`
	Pack                string           `json:"pack"`
	PackName            string           `json:"packName"`
	BottlesPerCase      int64            `json:"bottlesPerCase"`
	TotalBalance        int64            `json:"totalBalance"`
	TotalBalanceInCases decimal.Decimal  `json:"totalBalanceInCases"`
	Entries             []IssuanceRecord `json:"entries"`
}

type FinishedStock struct {
	Company             string        `json:"company"`
	CompanyName         string        `json:"companyName"`
	Item                string        `json:"item"`
	ItemName            string        `json:"itemName"`
	TotalBalanceInCases int64         `json:"totalBalanceInCases"`
	Entries             []UsageRecord `json:"entries"`
}

type Dashboard struct {
	LabelsIssued          int64                    `json:"labelsIssued"`
	LabelsUsed            int64                    `json:"labelsUsed"`
	CasesProduced         int64                    `json:"casesProduced"`
	CasesDispatched       int64                    `json:"casesDispatched"`
	CasesEALLinked        int64                    `json:"casesEALLinked"`
	IssuanceBalance       int64                    `json:"issuanceBalance"`
	UsageBalanceInCases   int64                    `json:"usageBalanceInCases"`
	DispatchCountByStatus map[DispatchStatus]int64 `json:"dispatchCountByStatus"`
}

type Settings struct {
	SearchableSelect         bool   `json:"searchableSelect"`
	ShowTotals               bool   `json:"showTotals"`
	UnlinkConfirmationPhrase string `json:"unlinkConfirmationPhrase"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actorUsername"`
	ActorRole     string    `json:"actorRole"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Covers reports whether t falls inside the filter's inclusive date window.
func (f ListFilter) Covers(t time.Time) bool {
	if f.StartDate != nil && t.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && !t.Before(f.EndDate.AddDate(0, 0, 1)) {
		return false
	}
	return true
}
