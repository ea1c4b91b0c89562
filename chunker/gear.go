package chunker

// gearTable is the fixed, random 256-entry gear table referenced by spec
// §4.3: "a random, fixed gear table (constant across the system)... part of
// the on-wire invariants. Changing the table changes chunk identity for all
// content; it is considered a format-breaking change." It was generated
// once with a seeded PRNG and is never regenerated — doing so would be a
// protocol version bump, not a tuning change.
var gearTable = [256]uint64{
	0x5c95c078, 0x22408989, 0x2d48a214, 0x12842087, 0x530f8afb, 0x474536b9, 0x2963b4f1, 0x44cb738b,
	0x4ea7403d, 0x4d606b6e, 0x074ec5d3, 0x3af39d18, 0x726003ca, 0x37a62a74, 0x51a2f58e, 0x7506358e,
	0x5d4ab128, 0x4d4ae17b, 0x41e85924, 0x470c36f7, 0x4741cbe1, 0x01bb7f30, 0x7f9b1fd1, 0x72f4c15c,
	0x76d35d21, 0x2d996e10, 0x2f72d3de, 0x5a6d0cc1, 0x4c8d37fc, 0x5dc4ca3b, 0x6104b9fe, 0x5f3d3b52,
	0x4779ceb6, 0x5fe97c6d, 0x6b88b0a1, 0x4c6aa5b9, 0x3c6bd5fd, 0x1c46bd93, 0x29f95720, 0x0c5dfb56,
	0x6e4ce7f6, 0x18c9c10e, 0x68de4c72, 0x5df16c53, 0x5e74fea7, 0x1a6a5a3a, 0x2cf0e66b, 0x14a0b9b0,
	0x6fe6a755, 0x2ff5b9af, 0x6d35e1a5, 0x76481a61, 0x5e65e072, 0x74c2e0f9, 0x2a3d37d8, 0x4ee23598,
	0x3d9d78e1, 0x69c1c36a, 0x0fe5c7ba, 0x1c3cfbb1, 0x2a0d4ceb, 0x67042fa5, 0x16cfecac, 0x3b42b0cb,
	0x62f0d6fb, 0x6c8fa92c, 0x1c2cd6e1, 0x74ecaaf3, 0x07e61acd, 0x52f9a0f8, 0x63ca1e5b, 0x1eed2095,
	0x09fd9ba4, 0x63d4b4b1, 0x49a8f046, 0x14a68fd0, 0x713d6e5c, 0x52a81ff1, 0x5bcdcd19, 0x6a715433,
	0x1395d5a9, 0x2c6dfa1e, 0x2a2359a6, 0x41aeabf5, 0x77c76def, 0x2f7c9a4b, 0x7d6c1f41, 0x352f38b1,
	0x7c0d3c7f, 0x14e8b3fb, 0x56a0e6d4, 0x42e6b0cf, 0x72e3e0f3, 0x0bf3d2e4, 0x76286dc8, 0x173d3c3b,
	0x0ce0bfda, 0x3e1c2c28, 0x7acb8b4e, 0x7dad93b3, 0x0f4e3b7e, 0x3f41e4ce, 0x5a41b1d2, 0x6f3b7afc,
	0x13ea7b1a, 0x5fdc7dea, 0x4b1f2e0a, 0x29b67c1d, 0x1e9d3b5e, 0x4c2e6b3a, 0x2a5c3f8b, 0x6d1e4a9c,
	0x3b7f2c5e, 0x5e9c1d2b, 0x7a3b5c4d, 0x1f6e2d9a, 0x4d8b3e5c, 0x2c5f7a9b, 0x6e1d3b4c, 0x5a9c2e7d,
	0x3f1b6c8e, 0x7d4a2e9c, 0x1e5b3f7a, 0x6c9d2a4b, 0x4b7e3c1d, 0x2e6a9f3c, 0x5c3d8b1e, 0x7a2e4c9d,
	0x1d5f6b3a, 0x3e7c9a2b, 0x6b4e1d8c, 0x2a5c3e7f, 0x4d9b6e1a, 0x7c2a3f5e, 0x1b6d8c4e, 0x3f5a2e9c,
	0x6e4c7b1a, 0x2d9e3f6c, 0x5b1a4c7e, 0x7f3d6a2e, 0x1c5e9b4a, 0x4a7c3e6d, 0x2f6b1d9c, 0x6c4e2a5b,
	0x3d7a9f1e, 0x5e2c4b6a, 0x1a6f3d9c, 0x4c9e2b7a, 0x7e1d6c3a, 0x2b5f9a4e, 0x6d3c7e1a, 0x4a9b2f6c,
	0x1f6d3a9e, 0x3c7b6e4a, 0x5e9a2d1c, 0x7c4e6b3a, 0x2a1f9d6c, 0x6b3e7a4c, 0x4d9c1a2e, 0x1e6b4f3a,
	0x3a7d2c9e, 0x5c9e4b1a, 0x7a3f6d2c, 0x1b5c9a4e, 0x4e6d2b7a, 0x2c9a1f3e, 0x6a4c7b9d, 0x3e1d6a2c,
	0x5b9c4e1a, 0x7d3a2f6c, 0x1c6e9b4a, 0x4a2c7d1e, 0x2f9b3a6c, 0x6c1e4d9a, 0x3a7c2b5e, 0x5e4a9c1d,
	0x1d2c6e9a, 0x4c9a3e7b, 0x7b1d6a4c, 0x2e5c9f3a, 0x6a4b1d7e, 0x4c2a9e6b, 0x1f3d7a5c, 0x3e6b4a9c,
	0x5a1c9e4d, 0x7c3e6a2b, 0x1b4d9c6a, 0x4e7a2c1f, 0x2a9c4e6d, 0x6c3b1a5e, 0x3d6e9a2c, 0x5a4c1e7b,
	0x1e2a9c6d, 0x4c6e3a9b, 0x7a1d4c2e, 0x2e9b6a3c, 0x6d1a2c9e, 0x4a7c9e3b, 0x1f5b6a4c, 0x3c9e1d7a,
	0x5e4a7c2b, 0x1d6c9a3e, 0x4b2e7a1c, 0x2a9d4c6e, 0x6e1b3a9c, 0x4c7a2e6d, 0x1f3c9a4b, 0x3e6a1d7c,
	0x5a9e2c4b, 0x7c1a6d3e, 0x1b4c9e2a, 0x4e7b1a6c, 0x2a3e9c4d, 0x6c6a1b2e, 0x3d9a7e4c, 0x5a2c1e9b,
	0x1e4a6c9d, 0x4c9e3b2a, 0x7a6d1c4e, 0x2e3a9b6c, 0x6d2c1a9e, 0x4a1e7c9b, 0x1f6a3d4c, 0x3c4e9a1b,
	0x5e7c2a6d, 0x1d9a4c3e, 0x4b6e2a1c, 0x2a1c9d4e, 0x6e3b6a1c, 0x4c9a2e7d, 0x1f7c4a3b, 0x3e1a9c6d,
	0x5a6c2e4b, 0x7c9e1a3d, 0x1b2a4c9e, 0x4e6d7a1c, 0x2a9c3e6b, 0x6c4a1d9e, 0x3d7b9a2c, 0x5a1e4c7b,
	0x1e9a6c2d, 0x4c3e7b9a, 0x7a2c1d4e, 0x2e6a9c3b, 0x6d4c2a1e, 0x4a9e6c7b, 0x1f2a3d9c, 0x3c6e4a1b,
	0x5e9c7a2d, 0x1d3a6c4e, 0x4b7e9a1c, 0x2a4c6d3e, 0x6e1c9a2b, 0x4c3a7e6d, 0x1f9b4c2a, 0x3e6d1a9c,
}

// gear hashes the window ending at byte b with the running fingerprint fp.
func gear(fp uint64, b byte) uint64 {
	return (fp << 1) + gearTable[b]
}
