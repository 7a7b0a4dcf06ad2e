package vulkan

import "sync"

type LockGroup string

// Objects Vulkan requires to be externally synchronised
// and that more than one goroutine may reach.
const (
	QueueManagement      LockGroup = "queue_management"
	DescriptorManagement LockGroup = "descriptor_management"
	SwapchainManagement  LockGroup = "swapchain_management"
)

// VulkanLockPool hands out one mutex per lock group.
type VulkanLockPool struct {
	mu    sync.Mutex
	locks map[LockGroup]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{locks: make(map[LockGroup]*sync.Mutex)}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

// SafeCall runs fn holding the lock of group.
func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}
