package model

import (
	"errors"
	"fmt"
)

// ErrUnknownDevice is returned when a device name does not resolve.
var ErrUnknownDevice = errors.New("unknown device")

// ErrUnknownDataItem is returned when a data item id does not resolve.
var ErrUnknownDataItem = errors.New("unknown data item")

const agentDeviceID = "agent"

// Model is the full device model: every Device known to the agent, plus
// index structures for fast lookup. It is built once at startup and is
// read-only thereafter, except for the Agent Device's Adapters subtree,
// which grows when AddAdapterComponent registers an adapter. Model holds
// no lock: AddAdapterComponent writes the data-item index and the
// Adapters subtree without synchronization.
type Model struct {
	devices     []*Device
	byName      map[string]*Device
	dataItems   map[string]*DataItem // id -> data item, across every device
	agentDevice *Device
	adaptersDir *Component // "Adapters" container under the Agent Device
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		byName:    make(map[string]*Device),
		dataItems: make(map[string]*DataItem),
	}
}

// GetDeviceByName returns the device with the given name, or ErrUnknownDevice.
func (m *Model) GetDeviceByName(name string) (*Device, error) {
	d, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return d, nil
}

// GetDataItem returns the data item with the given id, or ErrUnknownDataItem.
func (m *Model) GetDataItem(id string) (*DataItem, error) {
	item, ok := m.dataItems[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataItem, id)
	}
	return item, nil
}

// Devices returns every device in the model, root Agent Device included.
func (m *Model) Devices() []*Device {
	return append([]*Device(nil), m.devices...)
}

// AddDevice registers a device. It is fatal (returns an error) if any of
// its data item ids collide with an id already present in the model.
func (m *Model) AddDevice(d *Device) error {
	var dup error
	d.Walk(func(c *Component) {
		for _, item := range c.DataItems {
			if _, exists := m.dataItems[item.ID]; exists {
				dup = &errDuplicateID{id: item.ID}
				return
			}
			m.dataItems[item.ID] = item
		}
	})
	if dup != nil {
		return dup
	}
	m.devices = append(m.devices, d)
	m.byName[d.Name] = d
	return nil
}

// AddAgentDevice synthesizes and registers the Agent Device, per spec
// §4.1: a device named "Agent" with required data items AVAILABILITY,
// DEVICE_ADDED, DEVICE_REMOVED, DEVICE_CHANGED, plus an empty "Adapters"
// container ready to receive per-adapter components.
func (m *Model) AddAgentDevice() (*Device, error) {
	dev := NewDevice(agentDeviceID, "Agent", "Agent")

	required := []struct{ itemType, id string }{
		{"AVAILABILITY", "agent_avail"},
		{"DEVICE_ADDED", "device_added"},
		{"DEVICE_REMOVED", "device_removed"},
		{"DEVICE_CHANGED", "device_changed"},
	}
	for _, r := range required {
		dev.AddDataItem(&DataItem{ID: r.id, Type: r.itemType, Category: CategoryEvent})
	}

	adapters := &Component{ID: "__adapters__", Type: "Adapters", Name: "Adapters"}
	dev.AddChild(adapters)

	if err := m.AddDevice(dev); err != nil {
		return nil, err
	}
	m.agentDevice = dev
	m.adaptersDir = adapters
	return dev, nil
}

// AgentDevice returns the synthesized Agent Device, or nil if AddAgentDevice
// has not been called yet.
func (m *Model) AgentDevice() *Device {
	return m.agentDevice
}

// AdapterRegistration describes the adapter whose component subtree is
// being attached to the Agent Device.
type AdapterRegistration struct {
	Identity          string // e.g. "_host_port"
	Host              string
	Port              int
	ConfiguredDevice  string // options["device"], used for the component name when suppressed
	SuppressIPAddress bool
}

// AddAdapterComponent attaches a child "Adapter" component under the Agent
// Device's "Adapters" container, with the six data items spec §4.1
// requires. It is fatal if AddAgentDevice has not yet been called, or if
// any resulting data item id collides.
func (m *Model) AddAdapterComponent(reg AdapterRegistration) error {
	if m.adaptersDir == nil {
		return errors.New("model: AddAgentDevice must be called before AddAdapterComponent")
	}

	comp := &Component{ID: reg.Identity, Type: "Adapter"}
	if !reg.SuppressIPAddress {
		comp.Name = fmt.Sprintf("%s:%d", reg.Host, reg.Port)
	} else {
		comp.Name = reg.ConfiguredDevice
	}

	comp.AddDataItem(&DataItem{
		ID: reg.Identity + "_connection_status", Type: "CONNECTION_STATUS", Category: CategoryEvent,
	})

	if !reg.SuppressIPAddress {
		uri := fmt.Sprintf("shdr://%s:%d", reg.Host, reg.Port)
		comp.AddDataItem(&DataItem{
			ID: reg.Identity + "_adapter_uri", Type: "ADAPTER_URI", Category: CategoryEvent,
			ConstantValue: &uri,
		})
	}

	comp.AddDataItem(&DataItem{
		ID: reg.Identity + "_observation_update_rate", Type: "OBSERVATION_UPDATE_RATE",
		Category: CategorySample, Units: "COUNT/SECOND",
	})
	comp.AddDataItem(&DataItem{
		ID: reg.Identity + "_asset_update_rate", Type: "ASSET_UPDATE_RATE",
		Category: CategorySample, Units: "COUNT/SECOND",
	})
	comp.AddDataItem(&DataItem{
		ID: reg.Identity + "_adapter_software_version", Type: "ADAPTER_SOFTWARE_VERSION", Category: CategoryEvent,
	})
	comp.AddDataItem(&DataItem{
		ID: reg.Identity + "_mtconnect_version", Type: "MTCONNECT_VERSION", Category: CategoryEvent,
	})

	for _, item := range comp.DataItems {
		if _, exists := m.dataItems[item.ID]; exists {
			return &errDuplicateID{id: item.ID}
		}
	}
	for _, item := range comp.DataItems {
		m.dataItems[item.ID] = item
	}

	m.adaptersDir.AddChild(comp)
	return nil
}
