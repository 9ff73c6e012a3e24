package ocfl_test

import (
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/ocflcore/ocfl"
)

const testInventoryJSON = `{
	"id": "ark:/12345/bcd987",
	"type": "https://ocfl.io/1.1/spec/#inventory",
	"digestAlgorithm": "sha512",
	"head": "v2",
	"manifest": {
		"4d09e2cbc5c1e1d04d4c82938b9d54dc4e83f8a8a1ba08d7a1a84095b1552fca1f817a6b3e0ea9cdf844a3a68b47d4e73df111f2d7e37a9de54bc3fd0e8a6e21": ["v1/content/a.txt"],
		"8c2e7e1c3bbf1b5b8b0d0645c8e961e17c66e1ab8b3a3ba8e9f00dca2b6b01d3f7e42cbb5e13b80a1b9adf6b5a26b1cbf9b1a3e8bcbcbfbd8b1e4f3ae1e7ac92": ["v2/content/b.txt"]
	},
	"versions": {
		"v1": {
			"created": "2024-02-03T04:05:06Z",
			"message": "first",
			"user": {"name": "Alice", "address": "mailto:alice@example.com"},
			"state": {
				"4d09e2cbc5c1e1d04d4c82938b9d54dc4e83f8a8a1ba08d7a1a84095b1552fca1f817a6b3e0ea9cdf844a3a68b47d4e73df111f2d7e37a9de54bc3fd0e8a6e21": ["a.txt"]
			}
		},
		"v2": {
			"created": "2024-02-04T04:05:06Z",
			"message": "second",
			"user": {"name": "Alice", "address": "mailto:alice@example.com"},
			"state": {
				"4d09e2cbc5c1e1d04d4c82938b9d54dc4e83f8a8a1ba08d7a1a84095b1552fca1f817a6b3e0ea9cdf844a3a68b47d4e73df111f2d7e37a9de54bc3fd0e8a6e21": ["a.txt"],
				"8c2e7e1c3bbf1b5b8b0d0645c8e961e17c66e1ab8b3a3ba8e9f00dca2b6b01d3f7e42cbb5e13b80a1b9adf6b5a26b1cbf9b1a3e8bcbcbfbd8b1e4f3ae1e7ac92": ["b.txt"]
			}
		}
	}
}`

func TestUnmarshalInventory(t *testing.T) {
	is := is.New(t)
	inv, err := ocfl.UnmarshalInventory([]byte(testInventoryJSON))
	is.NoErr(err)
	is.Equal("ark:/12345/bcd987", inv.ID)
	is.Equal("sha512", inv.DigestAlgorithm)
	is.Equal(2, inv.Head.Num())
	is.Equal(2, len(inv.Versions))
	is.Equal("first", inv.Versions[ocfl.V(1, 0)].Message)
	is.Equal("Alice", inv.Versions[ocfl.V(2, 0)].User.Name)
	is.NoErr(inv.Validate())

	t.Run("unknown fields rejected", func(t *testing.T) {
		is := is.New(t)
		bad := strings.Replace(testInventoryJSON, `"id"`, `"bogus": 1, "id"`, 1)
		_, err := ocfl.UnmarshalInventory([]byte(bad))
		is.True(err != nil)
	})
}

func TestInventoryRoundTrip(t *testing.T) {
	is := is.New(t)
	inv, err := ocfl.UnmarshalInventory([]byte(testInventoryJSON))
	is.NoErr(err)
	b, err := ocfl.MarshalInventory(inv)
	is.NoErr(err)
	inv2, err := ocfl.UnmarshalInventory(b)
	is.NoErr(err)
	is.Equal(inv.ID, inv2.ID)
	is.Equal(inv.Head, inv2.Head)
	is.True(inv.Versions[ocfl.V(2, 0)].State.Eq(inv2.Versions[ocfl.V(2, 0)].State))
	is.True(inv.Manifest.Eq(inv2.Manifest))
}

func TestInventoryValidate(t *testing.T) {
	newValid := func() *ocfl.Inventory {
		inv, err := ocfl.UnmarshalInventory([]byte(testInventoryJSON))
		if err != nil {
			t.Fatal(err)
		}
		return inv
	}
	t.Run("valid", func(t *testing.T) {
		is := is.New(t)
		is.NoErr(newValid().Validate())
	})
	t.Run("missing id", func(t *testing.T) {
		is := is.New(t)
		inv := newValid()
		inv.ID = ""
		is.True(inv.Validate() != nil)
	})
	t.Run("bad digest algorithm", func(t *testing.T) {
		is := is.New(t)
		inv := newValid()
		inv.DigestAlgorithm = "crc32"
		is.True(inv.Validate() != nil)
	})
	t.Run("version gap", func(t *testing.T) {
		is := is.New(t)
		inv := newValid()
		delete(inv.Versions, ocfl.V(1, 0))
		is.True(inv.Validate() != nil)
	})
	t.Run("state digest missing from manifest", func(t *testing.T) {
		is := is.New(t)
		inv := newValid()
		inv.Versions[ocfl.V(2, 0)].State = ocfl.DigestMap{
			strings.Repeat("ab", 64): {"ghost.txt"},
		}
		is.True(inv.Validate() != nil)
	})
	t.Run("manifest path after head", func(t *testing.T) {
		is := is.New(t)
		inv := newValid()
		for dig, paths := range inv.Manifest {
			inv.Manifest[dig] = append(paths, "v9/content/late.txt")
			break
		}
		is.True(inv.Validate() != nil)
	})
}

func TestInventoryClone(t *testing.T) {
	is := is.New(t)
	inv, err := ocfl.UnmarshalInventory([]byte(testInventoryJSON))
	is.NoErr(err)
	clone := inv.Clone()
	clone.Manifest.Mutate(ocfl.RemovePath("v1/content/a.txt"))
	is.True(inv.Manifest.DigestFor("v1/content/a.txt") != "") // original unchanged
	clone.Versions[ocfl.V(3, 0)] = &ocfl.Version{Created: time.Now(), State: ocfl.DigestMap{}}
	is.Equal(2, len(inv.Versions))
}
