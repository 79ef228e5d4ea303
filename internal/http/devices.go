package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mrlokans/shelfsync/internal/entities"
)

// DeviceStore provides device registration and listing.
type DeviceStore interface {
	GetByID(userID uint, id string) (*entities.Device, error)
	GetOrCreate(userID uint, id, name string, deviceType entities.DeviceType) (*entities.Device, error)
	GetForUser(userID uint) ([]entities.Device, error)
	Rename(userID uint, id, name string) error
	Delete(userID uint, id string) error
}

type DevicesController struct {
	devices DeviceStore
}

func NewDevicesController(devices DeviceStore) *DevicesController {
	return &DevicesController{devices: devices}
}

type RegisterDeviceRequest struct {
	ID   string              `json:"id"` // optional; server generates one when empty
	Name string              `json:"name" binding:"required"`
	Type entities.DeviceType `json:"type"`
}

// Register handles POST /api/devices. Registering an existing device ID
// is idempotent and keeps its sync cursor.
func (d *DevicesController) Register(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid device registration: "+err.Error())
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, err := uuid.Parse(req.ID); err != nil {
		respondBadRequest(c, "device id must be a UUID")
		return
	}
	if req.Type == "" {
		req.Type = entities.DeviceTypeOther
	}

	device, err := d.devices.GetOrCreate(GetUserID(c), req.ID, req.Name, req.Type)
	if err != nil {
		respondInternalError(c, err, "register device")
		return
	}

	respondCreated(c, device)
}

// List handles GET /api/devices.
func (d *DevicesController) List(c *gin.Context) {
	devices, err := d.devices.GetForUser(GetUserID(c))
	if err != nil {
		respondInternalError(c, err, "list devices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

type RenameDeviceRequest struct {
	Name string `json:"name" binding:"required"`
}

// Rename handles PATCH /api/devices/:id.
func (d *DevicesController) Rename(c *gin.Context) {
	id := c.Param("id")
	userID := GetUserID(c)

	var req RenameDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid rename request: "+err.Error())
		return
	}

	if _, err := d.devices.GetByID(userID, id); err == gorm.ErrRecordNotFound {
		respondNotFound(c, "device")
		return
	} else if err != nil {
		respondInternalError(c, err, "get device")
		return
	}

	if err := d.devices.Rename(userID, id, req.Name); err != nil {
		respondInternalError(c, err, "rename device")
		return
	}
	respondSuccess(c, "device renamed")
}

// Delete handles DELETE /api/devices/:id. Forgetting a device does not
// touch the data it previously synced.
func (d *DevicesController) Delete(c *gin.Context) {
	if err := d.devices.Delete(GetUserID(c), c.Param("id")); err != nil {
		respondInternalError(c, err, "delete device")
		return
	}
	respondSuccess(c, "device deleted")
}
