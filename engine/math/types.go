package math

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/**
 * @brief Represents the extents of a 3d object.
 */
type Extents3D struct {
	/** @brief The minimum extents of the object. */
	Min Vec3
	/** @brief The maximum extents of the object. */
	Max Vec3
}

/**
 * @brief A 3x4 row-major affine transform. The last column holds the
 * translation; the implicit fourth row is (0, 0, 0, 1). This is the layout
 * acceleration structure instances expect.
 */
type Affine3x4 struct {
	M [3][4]float32
}
