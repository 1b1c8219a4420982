package v1alpha1

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// LabelClusterName is set on every ClusterMember to the name of the
	// cluster it belongs to.
	LabelClusterName = "cluster.strata.dev/name"
)

// ClusterMember is the registration record of one strata node. Members renew
// their record periodically; records that stop renewing are removed once the
// lease expires plus a grace period.
//
// +kubebuilder:object:root=true
// +kubebuilder:resource:scope=Namespaced,shortName=cm
// +kubebuilder:printcolumn:name="Host",type=string,JSONPath=`.spec.host`
// +kubebuilder:printcolumn:name="Port",type=integer,JSONPath=`.spec.port`
// +kubebuilder:printcolumn:name="Renewed",type=date,JSONPath=`.spec.renewTime`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type ClusterMember struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ClusterMemberSpec `json:"spec"`
}

type ClusterMemberSpec struct {
	// ClusterName groups members that talk to each other.
	ClusterName string `json:"clusterName"`

	// Host and Port are the address peers use for intra-cluster traffic.
	Host string `json:"host"`
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	Port int32 `json:"port"`

	// Props carries opaque member metadata such as the protocol version.
	Props map[string]string `json:"props,omitempty"`

	// RenewTime is the last time the member renewed its registration.
	RenewTime *metav1.MicroTime `json:"renewTime,omitempty"`

	// LeaseDurationSeconds is how long the registration stays valid after
	// RenewTime.
	// +kubebuilder:validation:Minimum=1
	LeaseDurationSeconds int32 `json:"leaseDurationSeconds"`
}

// ExpiresAt returns when the registration lapses. A member that never
// renewed expires at its creation time plus the lease duration.
func (m *ClusterMember) ExpiresAt() time.Time {
	base := m.CreationTimestamp.Time
	if m.Spec.RenewTime != nil {
		base = m.Spec.RenewTime.Time
	}
	return base.Add(time.Duration(m.Spec.LeaseDurationSeconds) * time.Second)
}

// +kubebuilder:object:root=true
type ClusterMemberList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ClusterMember `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ClusterMember{}, &ClusterMemberList{})
}
