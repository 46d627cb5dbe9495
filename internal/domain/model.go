package domain

import "time"

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusPicking          Status = "PICKING"
	StatusConfirmed        Status = "CONFIRMED"
	StatusPacking          Status = "PACKING"
	StatusPackingCompleted Status = "PACKING_COMPLETED"
	StatusInDelivery       Status = "IN_DELIVERY"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusWaitingStock     Status = "WAITING_STOCK"
)

// AllStatuses lists statuses in canonical (lifecycle) order.
var AllStatuses = []Status{
	StatusPending,
	StatusPicking,
	StatusConfirmed,
	StatusPacking,
	StatusPackingCompleted,
	StatusInDelivery,
	StatusDelivered,
	StatusCancelled,
	StatusWaitingStock,
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Role string

const (
	RolePicker  Role = "PICKER"
	RolePacker  Role = "PACKER"
	RoleCourier Role = "COURIER"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// StaffRoles are the roles that own a processing stage.
var StaffRoles = []Role{RolePicker, RolePacker, RoleCourier}

// Privileged reports whether the role may set any status.
func (r Role) Privileged() bool { return r == RoleAdmin || r == RoleManager }

func (r Role) IsValid() bool {
	switch r {
	case RolePicker, RolePacker, RoleCourier, RoleManager, RoleAdmin:
		return true
	}
	return false
}

type StepType string

const (
	StepStarted   StepType = "started"
	StepCompleted StepType = "completed"
	StepReleased  StepType = "released"
)

type Order struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	Status        Status        `json:"status"`
	AssignedToID  *string       `json:"assigned_to_id,omitempty"`
	WarehouseID   string        `json:"warehouse_id"`
	DistrictID    string        `json:"district_id"`
	Priority      bool          `json:"priority"`
	StatusHistory []StatusEvent `json:"status_history"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Clone returns a deep copy; collections hand out clones so callers can't
// mutate cached state.
func (o Order) Clone() Order {
	c := o
	if o.AssignedToID != nil {
		id := *o.AssignedToID
		c.AssignedToID = &id
	}
	if o.StatusHistory != nil {
		c.StatusHistory = append([]StatusEvent(nil), o.StatusHistory...)
	}
	return c
}

// StatusEvent is append-only: once received it is never mutated.
type StatusEvent struct {
	Status    Status    `json:"status"`
	Comment   string    `json:"comment"`
	ChangedBy *string   `json:"changed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProcessingStep is derived from StatusHistory by the history package.
type ProcessingStep struct {
	Role             Role      `json:"role"`
	StepType         StepType  `json:"step_type"`
	EmployeeName     string    `json:"employee_name"`
	EmployeePosition string    `json:"employee_position"`
	Comment          string    `json:"comment"`
	CreatedAt        time.Time `json:"created_at"`
	IsVirtual        bool      `json:"is_virtual"`
}

type LocalOrderAction struct {
	OrderID      string    `json:"order_id"`
	ActorID      string    `json:"actor_id"`
	ActorRole    Role      `json:"actor_role,omitempty"`
	Seq          uint64    `json:"seq"`
	Taken        bool      `json:"taken"`
	Released     bool      `json:"released"`
	Completed    bool      `json:"completed"`
	TargetStatus Status    `json:"target_status,omitempty"`
	Confirmed    bool      `json:"confirmed"`
	Timestamp    time.Time `json:"timestamp"`
}

// Actor is the staff member the core acts for.
type Actor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	Privileged bool   `json:"privileged"`
}

// EffectiveRole is the role transitions are checked against: a privileged
// actor is treated as a manager whatever their staff role.
func (a Actor) EffectiveRole() Role {
	if a.Privileged && !a.Role.Privileged() {
		return RoleManager
	}
	return a.Role
}

type Collection string

const (
	CollectionMyOrders        Collection = "myOrders"
	CollectionStaffOrders     Collection = "staffOrders"
	CollectionAvailableOrders Collection = "availableOrders"
	CollectionStats           Collection = "stats"
)

// OrderCollections are the paginated collections; stats is fetched separately.
var OrderCollections = []Collection{CollectionMyOrders, CollectionStaffOrders, CollectionAvailableOrders}

func (c Collection) IsValid() bool {
	switch c {
	case CollectionMyOrders, CollectionStaffOrders, CollectionAvailableOrders, CollectionStats:
		return true
	}
	return false
}

type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Total int `json:"total"`
}

// HasMore reports whether pages remain after the current one.
func (p Pagination) HasMore() bool { return p.Page < p.Pages }

type Page struct {
	Orders     []Order    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type Stats struct {
	ByStatus map[Status]int `json:"by_status"`
	Total    int            `json:"total"`
	Mine     int            `json:"mine"`
}
