package math

func TransformCreate() *Transform {
	return &Transform{
		Position: NewVec3Zero(),
		Rotation: NewQuatIdentity(),
		Scale:    NewVec3One(),
		Local:    NewMat4Identity(),
		IsDirty:  false,
	}
}

func TransformFromPosition(position Vec3) *Transform {
	t := TransformCreate()
	t.SetPosition(position)
	return t
}

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	t := TransformCreate()
	t.SetPositionRotationScale(position, rotation, scale)
	return t
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.Position = t.Position.Add(translation)
	t.IsDirty = true
}

func (t *Transform) SetRotation(rotation Quaternion) {
	t.Rotation = rotation
	t.IsDirty = true
}

func (t *Transform) Rotate(rotation Quaternion) {
	t.Rotation = t.Rotation.Mul(rotation)
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

func (t *Transform) SetPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) {
	t.Position = position
	t.Rotation = rotation
	t.Scale = scale
	t.IsDirty = true
}

// GetLocal rebuilds the scale * rotation * translation matrix when dirty.
func (t *Transform) GetLocal() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	if t.IsDirty {
		tr := t.Rotation.ToMat4().Mul(NewMat4Translation(t.Position))
		t.Local = NewMat4Scale(t.Scale).Mul(tr)
		t.IsDirty = false
	}
	return t.Local
}

func (t *Transform) GetWorld() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	l := t.GetLocal()
	if t.Parent != nil {
		return l.Mul(t.Parent.GetWorld())
	}
	return l
}
