// Package model provides the data types shared by every lotkeep package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Plates are always compared in normalized form (see NormalizePlate)
//   - A session is active while CheckOut is nil
//   - Mutations are a closed tagged union (CheckIn, CheckOut, WaitlistAdd,
//     WaitlistRemove); the Op tag is the only thing persisted alongside the payload
//   - All JSON tags use snake_case
package model
