package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime"
)

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ClusterMember) DeepCopyInto(out *ClusterMember) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
}

// DeepCopy copies the receiver, creating a new ClusterMember.
func (in *ClusterMember) DeepCopy() *ClusterMember {
	if in == nil {
		return nil
	}
	out := new(ClusterMember)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *ClusterMember) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ClusterMemberSpec) DeepCopyInto(out *ClusterMemberSpec) {
	*out = *in
	if in.Props != nil {
		out.Props = make(map[string]string, len(in.Props))
		for k, v := range in.Props {
			out.Props[k] = v
		}
	}
	if in.RenewTime != nil {
		out.RenewTime = in.RenewTime.DeepCopy()
	}
}

// DeepCopy copies the receiver, creating a new ClusterMemberSpec.
func (in *ClusterMemberSpec) DeepCopy() *ClusterMemberSpec {
	if in == nil {
		return nil
	}
	out := new(ClusterMemberSpec)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *ClusterMemberList) DeepCopyInto(out *ClusterMemberList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ListMeta.DeepCopyInto(&out.ListMeta)
	if in.Items != nil {
		out.Items = make([]ClusterMember, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new ClusterMemberList.
func (in *ClusterMemberList) DeepCopy() *ClusterMemberList {
	if in == nil {
		return nil
	}
	out := new(ClusterMemberList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject copies the receiver, creating a new runtime.Object.
func (in *ClusterMemberList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
