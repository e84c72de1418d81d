// Copyright 2026 The CZ7 Host Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hypervisor

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/cz7host/cz7host/internal/backend"
)

const (
	machineType = "pc-q35-8.2"
	vncListen   = "127.0.0.1"
)

// domainXML renders the definition of a KVM guest booting disk.
func domainXML(name, uuid, disk string, c backend.Ceiling) (string, error) {
	memKiB := uint(c.MemoryMB) * 1024

	dom := &libvirtxml.Domain{
		Type: "kvm",
		Name: name,
		UUID: uuid,
		Memory: &libvirtxml.DomainMemory{
			Value: memKiB,
			Unit:  "KiB",
		},
		CurrentMemory: &libvirtxml.DomainCurrentMemory{
			Value: memKiB,
			Unit:  "KiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     c.VCPUs(),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch:    "x86_64",
				Machine: machineType,
				Type:    "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{{Dev: "hd"}},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{{
				Device: "disk",
				Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
				Source: &libvirtxml.DomainDiskSource{
					File: &libvirtxml.DomainDiskSourceFile{File: disk},
				},
				Target: &libvirtxml.DomainDiskTarget{Dev: "vda", Bus: "virtio"},
			}},
			Interfaces: []libvirtxml.DomainInterface{{
				Source: &libvirtxml.DomainInterfaceSource{
					Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: "default"},
				},
				Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
			}},
			Graphics: []libvirtxml.DomainGraphic{{
				VNC: &libvirtxml.DomainGraphicVNC{
					Port:     -1,
					AutoPort: "yes",
					Listen:   vncListen,
					Listeners: []libvirtxml.DomainGraphicListener{{
						Address: &libvirtxml.DomainGraphicListenerAddress{Address: vncListen},
					}},
				},
			}},
		},
	}

	xml, err := dom.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to render domain %s: %w", name, err)
	}
	return xml, nil
}
